package workspace

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 条目类型
const (
	KindFolder = "folder"
	KindFile   = "file"
)

// 文件夹重名策略
const (
	ConflictReuse  = "reuse"
	ConflictRename = "rename"
	ConflictAsk    = "ask"
)

var (
	// ErrItemNotFound 条目不存在或不属于该所有者
	ErrItemNotFound = errors.New("条目不存在")
	// ErrNameConflict 同级已存在同名条目且策略为 ask
	ErrNameConflict = errors.New("存在同名条目")
	// ErrNotFolder 目标不是文件夹
	ErrNotFolder = errors.New("目标不是文件夹")
)

// Item 工作区中的文件或文件夹
type Item struct {
	ID          string            `gorm:"primaryKey;size:64" json:"id"`
	OwnerID     string            `gorm:"size:100;not null;index:idx_workspace_item_owner" json:"ownerId"`
	ParentID    *string           `gorm:"size:64;index:idx_workspace_item_parent" json:"parentId"`
	Name        string            `gorm:"size:255;not null" json:"name"`
	Kind        string            `gorm:"size:20;not null" json:"kind"`
	MimeType    string            `gorm:"size:100" json:"mimeType,omitempty"`
	StoragePath string            `gorm:"size:1024;not null" json:"storagePath"`
	Size        int64             `json:"size"`
	Highlighted bool              `json:"highlighted"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt   time.Time         `gorm:"not null;index" json:"createdAt"`
	UpdatedAt   time.Time         `gorm:"not null" json:"updatedAt"`
}

// TableName 表名
func (Item) TableName() string { return "workspace_items" }

// BeforeCreate 设置默认 ID 与时间戳
func (i *Item) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	if i.UpdatedAt.IsZero() {
		i.UpdatedAt = i.CreatedAt
	}
	return nil
}

// IsFolder 是否为文件夹
func (i *Item) IsFolder() bool { return i.Kind == KindFolder }

// IsDocumentLike 图片或文档类附件，用于附件恢复
func (i *Item) IsDocumentLike() bool {
	mt := strings.ToLower(i.MimeType)
	switch {
	case strings.HasPrefix(mt, "image/"):
		return true
	case mt == "application/pdf",
		strings.HasPrefix(mt, "application/vnd.openxmlformats"),
		strings.HasPrefix(mt, "application/msword"),
		strings.HasPrefix(mt, "application/vnd.ms-"),
		strings.HasPrefix(mt, "text/"):
		return true
	}
	return false
}
