package tools

// 内置工作区动作 ID
const (
	ActionCreateFolder      = "create_folder"
	ActionCreateMarkdown    = "create_markdown_file"
	ActionCreateHTML        = "create_html_file"
	ActionMoveAttachments   = "move_attachments_to_folder"
	ActionCopyAttachments   = "copy_attachments_to_folder"
	ActionHighlightFile     = "highlight_file"
	ActionListRecentUploads = "list_recent_uploads"
)

// 动作参数与结果中约定的键名
const (
	KeyFolderID      = "folderId"
	KeyFolderName    = "folderName"
	KeyParentID      = "parentId"
	KeyName          = "name"
	KeyTitle         = "title"
	KeyContent       = "content"
	KeyOnConflict    = "onConflict"
	KeyAttachmentIDs = "attachmentIds"
	KeyFileID        = "fileId"
	KeyFileIDs       = "fileIds"
	KeyMovedIDs      = "movedIds"
	KeyCopiedIDs     = "copiedIds"
	KeyWithinMinutes = "withinMinutes"
	KeyReused        = "reused"
	KeyMoveAfterward = "moveAfterward"
	KeyCopyAfterward = "copyAfterward"
	KeyAutoName      = "autoName"
	KeyFolderPrefix  = "folderPrefix"
)

// IsTransfer 是否为附件移动/复制动作
func IsTransfer(action string) bool {
	return action == ActionMoveAttachments || action == ActionCopyAttachments
}
