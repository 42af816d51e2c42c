package model

type User struct {
	UserID      string `gorm:"column:user_id;type:text;primaryKey"`
	Username    string `gorm:"column:username;type:text;not null;uniqueIndex"`
	DisplayName string `gorm:"column:display_name;type:text;not null"`
	IsSystem    bool   `gorm:"column:is_system;not null;default:false"`
	CreatedAt   string `gorm:"column:created_at;type:text;not null"`
}

func (User) TableName() string {
	return "users"
}
