package sharepoint

// DriveItem is one entry of a drive folder listing.
type DriveItem struct {
	ID     string
	Name   string
	Size   int64
	Folder bool
}

// UploadResult describes the item created by a finished upload.
type UploadResult struct {
	ID   string
	Name string
	Size int64
}

// driveItemJSON mirrors the Graph driveItem wire shape.
type driveItemJSON struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Folder *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder,omitempty"`
}

func (d driveItemJSON) toDriveItem() DriveItem {
	return DriveItem{
		ID:     d.ID,
		Name:   d.Name,
		Size:   d.Size,
		Folder: d.Folder != nil,
	}
}
