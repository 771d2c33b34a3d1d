package workspace

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service 工作区条目服务：记录存数据库，内容存 Storage
type Service struct {
	db      *gorm.DB
	storage Storage
	logger  *zap.Logger
	now     func() time.Time
}

// NewService 创建工作区服务
func NewService(db *gorm.DB, storage Storage, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:      db,
		storage: storage,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Storage 返回底层存储
func (s *Service) Storage() Storage { return s.storage }

// CreateFolderRequest 新建文件夹请求
type CreateFolderRequest struct {
	OwnerID    string
	ParentID   *string
	Name       string
	OnConflict string // reuse, rename, ask
}

// CreateFolderResult 新建文件夹结果；Reused 表示复用了已有的同名文件夹
type CreateFolderResult struct {
	Folder *Item
	Reused bool
}

// CreateFolder 新建文件夹。同名冲突时按 OnConflict 处理，ask 返回 ErrNameConflict
func (s *Service) CreateFolder(ctx context.Context, req *CreateFolderRequest) (*CreateFolderResult, error) {
	name := SanitizeName(req.Name)
	if name == "" {
		return nil, errors.New("文件夹名称不能为空")
	}
	parentPath, err := s.parentPath(ctx, req.OwnerID, req.ParentID)
	if err != nil {
		return nil, err
	}

	existing, err := s.FindByName(ctx, req.OwnerID, req.ParentID, name)
	if err != nil && !errors.Is(err, ErrItemNotFound) {
		return nil, err
	}
	if existing != nil {
		switch req.OnConflict {
		case ConflictReuse, "":
			if existing.IsFolder() {
				return &CreateFolderResult{Folder: existing, Reused: true}, nil
			}
			name, err = s.availableName(ctx, req.OwnerID, req.ParentID, name)
		case ConflictRename:
			name, err = s.availableName(ctx, req.OwnerID, req.ParentID, name)
		default:
			return nil, fmt.Errorf("%w: %s", ErrNameConflict, name)
		}
		if err != nil {
			return nil, err
		}
	}

	folder := &Item{
		OwnerID:     req.OwnerID,
		ParentID:    req.ParentID,
		Name:        name,
		Kind:        KindFolder,
		StoragePath: path.Join(parentPath, name),
	}
	if err := s.db.WithContext(ctx).Create(folder).Error; err != nil {
		return nil, fmt.Errorf("创建文件夹失败: %w", err)
	}
	if err := s.storage.Mkdir(folder.StoragePath); err != nil {
		s.logger.Warn("创建存储目录失败", zap.String("path", folder.StoragePath), zap.Error(err))
	}
	return &CreateFolderResult{Folder: folder}, nil
}

// CreateFileRequest 新建文件请求；同名时自动追加序号
type CreateFileRequest struct {
	OwnerID  string
	ParentID *string
	Name     string
	MimeType string
	Content  []byte
	Metadata map[string]any
}

// CreateFile 写入内容并登记文件条目
func (s *Service) CreateFile(ctx context.Context, req *CreateFileRequest) (*Item, error) {
	name := SanitizeName(req.Name)
	if name == "" {
		return nil, errors.New("文件名不能为空")
	}
	parentPath, err := s.parentPath(ctx, req.OwnerID, req.ParentID)
	if err != nil {
		return nil, err
	}
	name, err = s.availableName(ctx, req.OwnerID, req.ParentID, name)
	if err != nil {
		return nil, err
	}

	file := &Item{
		OwnerID:     req.OwnerID,
		ParentID:    req.ParentID,
		Name:        name,
		Kind:        KindFile,
		MimeType:    req.MimeType,
		StoragePath: path.Join(parentPath, name),
		Size:        int64(len(req.Content)),
		Metadata:    req.Metadata,
	}
	if err := s.storage.Write(file.StoragePath, req.Content); err != nil {
		return nil, fmt.Errorf("写入文件失败: %w", err)
	}
	if err := s.db.WithContext(ctx).Create(file).Error; err != nil {
		return nil, fmt.Errorf("登记文件失败: %w", err)
	}
	return file, nil
}

// MoveItems 在一个事务里把条目移入文件夹，返回实际移动的 ID。
// 存储层重命名失败只记录日志，不回滚数据库更新
func (s *Service) MoveItems(ctx context.Context, ownerID string, itemIDs []string, folderID string) ([]string, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	var moved []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		folder, err := s.folderTx(tx, ownerID, folderID)
		if err != nil {
			return err
		}
		for _, id := range itemIDs {
			var item Item
			if err := tx.Where("id = ? AND owner_id = ?", id, ownerID).First(&item).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					s.logger.Warn("移动时条目不存在", zap.String("item_id", id))
					continue
				}
				return err
			}
			if item.ID == folder.ID {
				continue
			}
			oldPath := item.StoragePath
			newPath := path.Join(folder.StoragePath, item.Name)
			if err := tx.Model(&Item{}).Where("id = ?", item.ID).Updates(map[string]any{
				"parent_id":    folder.ID,
				"storage_path": newPath,
				"updated_at":   s.now(),
			}).Error; err != nil {
				return err
			}
			if err := s.storage.Rename(oldPath, newPath); err != nil {
				s.logger.Warn("存储层移动失败",
					zap.String("item_id", item.ID),
					zap.String("from", oldPath),
					zap.String("to", newPath),
					zap.Error(err))
			}
			moved = append(moved, item.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("移动条目失败: %w", err)
	}
	return moved, nil
}

// CopyItems 在一个事务里复制文件到文件夹，返回新条目 ID；文件夹条目跳过
func (s *Service) CopyItems(ctx context.Context, ownerID string, itemIDs []string, folderID string) ([]string, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	var copied []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		folder, err := s.folderTx(tx, ownerID, folderID)
		if err != nil {
			return err
		}
		for _, id := range itemIDs {
			var src Item
			if err := tx.Where("id = ? AND owner_id = ?", id, ownerID).First(&src).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					s.logger.Warn("复制时条目不存在", zap.String("item_id", id))
					continue
				}
				return err
			}
			if src.IsFolder() {
				continue
			}
			name, err := s.availableNameTx(tx, ownerID, &folder.ID, src.Name)
			if err != nil {
				return err
			}
			dup := &Item{
				OwnerID:     ownerID,
				ParentID:    &folder.ID,
				Name:        name,
				Kind:        KindFile,
				MimeType:    src.MimeType,
				StoragePath: path.Join(folder.StoragePath, name),
				Size:        src.Size,
				Metadata:    src.Metadata,
			}
			if err := tx.Create(dup).Error; err != nil {
				return err
			}
			if err := s.storage.Copy(src.StoragePath, dup.StoragePath); err != nil {
				s.logger.Warn("存储层复制失败",
					zap.String("item_id", src.ID),
					zap.String("to", dup.StoragePath),
					zap.Error(err))
			}
			copied = append(copied, dup.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("复制条目失败: %w", err)
	}
	return copied, nil
}

// Highlight 标记文件为高亮
func (s *Service) Highlight(ctx context.Context, ownerID, itemID string) (*Item, error) {
	item, err := s.Get(ctx, ownerID, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(item).Updates(map[string]any{
		"highlighted": true,
		"updated_at":  s.now(),
	}).Error; err != nil {
		return nil, fmt.Errorf("高亮失败: %w", err)
	}
	item.Highlighted = true
	return item, nil
}

// Get 查询条目
func (s *Service) Get(ctx context.Context, ownerID, itemID string) (*Item, error) {
	var item Item
	if err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", itemID, ownerID).
		First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return &item, nil
}

// FileSize 返回文件在存储中的实际大小
func (s *Service) FileSize(ctx context.Context, ownerID, itemID string) (int64, error) {
	item, err := s.Get(ctx, ownerID, itemID)
	if err != nil {
		return 0, err
	}
	if item.IsFolder() {
		return 0, fmt.Errorf("%s 是文件夹", item.Name)
	}
	return s.storage.Size(item.StoragePath)
}

// FindByName 在同一父级下按名称查找（不区分大小写）
func (s *Service) FindByName(ctx context.Context, ownerID string, parentID *string, name string) (*Item, error) {
	return s.findByNameTx(s.db.WithContext(ctx), ownerID, parentID, name)
}

// ListChildren 列出父级下的条目；parentID 为 nil 时列出根目录
func (s *Service) ListChildren(ctx context.Context, ownerID string, parentID *string) ([]*Item, error) {
	var items []*Item
	q := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if parentID == nil {
		q = q.Where("parent_id IS NULL")
	} else {
		q = q.Where("parent_id = ?", *parentID)
	}
	if err := q.Order("created_at ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// RecentOrphans 最近 window 内上传、仍在根目录的图片/文档文件，按时间正序
func (s *Service) RecentOrphans(ctx context.Context, ownerID string, window time.Duration) ([]*Item, error) {
	var items []*Item
	if err := s.db.WithContext(ctx).
		Where("owner_id = ? AND parent_id IS NULL AND kind = ? AND created_at >= ?", ownerID, KindFile, s.now().Add(-window)).
		Order("created_at ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	result := items[:0]
	for _, item := range items {
		if item.IsDocumentLike() {
			result = append(result, item)
		}
	}
	return result, nil
}

func (s *Service) parentPath(ctx context.Context, ownerID string, parentID *string) (string, error) {
	if parentID == nil || *parentID == "" {
		return ownerID, nil
	}
	parent, err := s.folderTx(s.db.WithContext(ctx), ownerID, *parentID)
	if err != nil {
		return "", err
	}
	return parent.StoragePath, nil
}

func (s *Service) folderTx(tx *gorm.DB, ownerID, folderID string) (*Item, error) {
	if strings.TrimSpace(folderID) == "" {
		return nil, fmt.Errorf("%w: 缺少文件夹 ID", ErrItemNotFound)
	}
	var folder Item
	if err := tx.Where("id = ? AND owner_id = ?", folderID, ownerID).First(&folder).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: 文件夹 %s", ErrItemNotFound, folderID)
		}
		return nil, err
	}
	if !folder.IsFolder() {
		return nil, ErrNotFolder
	}
	return &folder, nil
}

func (s *Service) findByNameTx(tx *gorm.DB, ownerID string, parentID *string, name string) (*Item, error) {
	var item Item
	q := tx.Where("owner_id = ? AND LOWER(name) = ?", ownerID, strings.ToLower(name))
	if parentID == nil {
		q = q.Where("parent_id IS NULL")
	} else {
		q = q.Where("parent_id = ?", *parentID)
	}
	if err := q.First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Service) availableName(ctx context.Context, ownerID string, parentID *string, name string) (string, error) {
	return s.availableNameTx(s.db.WithContext(ctx), ownerID, parentID, name)
}

func (s *Service) availableNameTx(tx *gorm.DB, ownerID string, parentID *string, name string) (string, error) {
	candidate := name
	for n := 2; n < 1000; n++ {
		_, err := s.findByNameTx(tx, ownerID, parentID, candidate)
		if errors.Is(err, ErrItemNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = numberedName(name, n)
	}
	return "", fmt.Errorf("%w: %s", ErrNameConflict, name)
}
