package models

import (
	"time"
)

const TitleMaxLength = 200

type Todo struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Title       string    `json:"title" gorm:"type:varchar(200);not null"`
	Description string    `json:"description" gorm:"type:text;not null;default:''"`
	Completed   bool      `json:"completed" gorm:"not null;default:false"`
	CreatedAt   time.Time `json:"created_at" gorm:"index"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Todo) TableName() string {
	return "todos"
}

func (t Todo) String() string {
	return t.Title
}
