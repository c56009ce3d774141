package graph

import "time"

// DriveItem Graph 返回的网盘节点；文件夹带 folder facet，文件带 file facet
type DriveItem struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Size                 int64        `json:"size"`
	LastModifiedDateTime time.Time    `json:"lastModifiedDateTime"`
	Folder               *FolderFacet `json:"folder,omitempty"`
	File                 *FileFacet   `json:"file,omitempty"`
}

type FolderFacet struct {
	ChildCount int `json:"childCount"`
}

type FileFacet struct {
	MimeType string `json:"mimeType"`
}

// ListResponse /children 响应，超过一页时带 @odata.nextLink
type ListResponse struct {
	Value    []DriveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

// ErrorResponse Graph 通用错误外壳
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// UploadSession createUploadSession 响应
type UploadSession struct {
	UploadURL          string    `json:"uploadUrl"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
	NextExpectedRanges []string  `json:"nextExpectedRanges"`
}

// uploadSessionRequest createUploadSession 请求体
type uploadSessionRequest struct {
	Item struct {
		ConflictBehavior string `json:"@microsoft.graph.conflictBehavior"`
	} `json:"item"`
}
