package db

import (
	"github.com/promptlab/promptlab/pkg/ormx"
)

type TodoList struct {
	ormx.UuidModel
	Goal           string `json:"goal" gorm:"type:text;not null;column:goal;comment:'goal'"`
	Status         string `json:"status" gorm:"type:varchar(32);not null;column:status;comment:'status'"`
	CurrentVersion int64  `json:"currentVersion" gorm:"type:bigint(20);not null;column:current_version;comment:'乐观锁版本'"`
}

func (l *TodoList) TableName() string {
	return "goi_todo_lists"
}

type TodoItem struct {
	ormx.UuidModel
	ListID      string `json:"listId" gorm:"type:varchar(255);not null;index;column:list_id;comment:'list_id'"`
	Title       string `json:"title" gorm:"type:varchar(512);not null;column:title;comment:'title'"`
	Description string `json:"description" gorm:"type:text;column:description;comment:'description'"`
	Category    string `json:"category" gorm:"type:varchar(64);column:category;comment:'category'"`
	Status      string `json:"status" gorm:"type:varchar(32);not null;column:status;comment:'status'"`
	RetryCount  int    `json:"retryCount" gorm:"type:int(11);not null;column:retry_count;comment:'重试次数'"`
	OrderIndex  int    `json:"orderIndex" gorm:"type:int(11);not null;column:order_index;comment:'执行顺序'"`
}

func (i *TodoItem) TableName() string {
	return "goi_todo_items"
}

type Checkpoint struct {
	ormx.UuidModel
	SessionID  string `json:"sessionId" gorm:"type:varchar(255);not null;index;column:session_id;comment:'session_id'"`
	TodoItemID string `json:"todoItemId" gorm:"type:varchar(255);column:todo_item_id;comment:'触发检查点的todo项'"`
	Reason     string `json:"reason" gorm:"type:text;column:reason;comment:'reason'"`
	Preview    string `json:"preview" gorm:"type:longtext;column:preview;comment:'待执行动作预览(json)'"`
	Options    string `json:"options" gorm:"type:text;column:options;comment:'可选动作(json)'"`
	Status     string `json:"status" gorm:"type:varchar(32);not null;column:status;comment:'status'"`
	Response   string `json:"response" gorm:"type:longtext;column:response;comment:'人工响应(json)'"`
	ExpiresAt  int64  `json:"expiresAt" gorm:"type:bigint(20);not null;column:expires_at;comment:'过期时间(unix ms)'"`
	ResolvedAt int64  `json:"resolvedAt" gorm:"type:bigint(20);column:resolved_at;comment:'处理时间(unix ms)'"`
}

func (c *Checkpoint) TableName() string {
	return "goi_checkpoints"
}

type ControlTransfer struct {
	ormx.UuidModel
	SessionID     string `json:"sessionId" gorm:"type:varchar(255);not null;index;column:session_id;comment:'session_id'"`
	FromParty     string `json:"from" gorm:"type:varchar(16);not null;column:from_party;comment:'from'"`
	ToParty       string `json:"to" gorm:"type:varchar(16);not null;column:to_party;comment:'to'"`
	Reason        string `json:"reason" gorm:"type:text;column:reason;comment:'reason'"`
	Message       string `json:"message" gorm:"type:text;column:message;comment:'message'"`
	TransferredAt int64  `json:"transferredAt" gorm:"type:bigint(20);not null;column:transferred_at;comment:'转移时间(unix ms)'"`
}

func (t *ControlTransfer) TableName() string {
	return "goi_control_transfers"
}

type Understanding struct {
	ormx.UuidModel
	SessionID         string  `json:"sessionId" gorm:"type:varchar(255);not null;uniqueIndex;column:session_id;comment:'session_id'"`
	Summary           string  `json:"summary" gorm:"type:text;column:summary;comment:'summary'"`
	CurrentGoal       string  `json:"currentGoal" gorm:"type:text;column:current_goal;comment:'current_goal'"`
	SelectedResources string  `json:"selectedResources" gorm:"type:text;column:selected_resources;comment:'选中资源(json)'"`
	CurrentPhase      string  `json:"currentPhase" gorm:"type:varchar(64);column:current_phase;comment:'current_phase'"`
	Confidence        float64 `json:"confidence" gorm:"type:decimal(4,3);column:confidence;comment:'置信度0-1'"`
}

func (u *Understanding) TableName() string {
	return "goi_understandings"
}
