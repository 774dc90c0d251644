// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// Document 对应于数据库中的 'documents' 表。
// 它记录了上传文件的元数据；文件本体存放在对象存储中，由 ObjectKey 定位。
type Document struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"index;not null" json:"userId"`
	FileName    string    `gorm:"type:varchar(255);not null" json:"fileName"`
	ObjectKey   string    `gorm:"type:varchar(512);not null" json:"objectKey"`
	ContentType string    `gorm:"type:varchar(100)" json:"contentType"`
	Size        int64     `gorm:"not null" json:"size"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}
