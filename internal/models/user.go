package models

import (
	"time"

	"gorm.io/gorm"
)

// 账号角色
const (
	UserRoleAdmin    = "admin"    // 管理端，可见全部事件
	UserRoleObserver = "observer" // 观察端，仅可见公开事件
)

// User 账号表（查询接口与推送接口的登录主体）
type User struct {
	BaseModel
	Username    string     `gorm:"uniqueIndex;size:50;not null" json:"username"`
	Nickname    string     `gorm:"size:100" json:"nickname"`
	Password    string     `gorm:"size:255;not null" json:"-"`
	Role        string     `gorm:"size:20;default:'observer'" json:"role"`
	Status      string     `gorm:"size:20;default:'active'" json:"status"` // active, frozen
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP string     `gorm:"size:50" json:"last_login_ip"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// BeforeCreate 创建前的钩子
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.Nickname == "" {
		u.Nickname = u.Username
	}
	if u.Role == "" {
		u.Role = UserRoleObserver
	}
	if u.Status == "" {
		u.Status = "active"
	}
	return nil
}

// IsActive 账号是否可用
func (u *User) IsActive() bool {
	return u.Status == "active"
}

// IsAdmin 是否管理端账号
func (u *User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}

// UpdateLoginInfo 更新登录信息
func (u *User) UpdateLoginInfo(ip string) {
	now := time.Now()
	u.LastLoginAt = &now
	u.LastLoginIP = ip
}
