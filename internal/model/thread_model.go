package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Thread struct {
	Id                  uuid.UUID                        `gorm:"type:uuid;primaryKey"`
	UserId              uuid.UUID                        `gorm:"type:uuid;not null;index"`
	Mode                string                           `gorm:"type:varchar(16);not null"`
	AnchorBookId        *int                             `gorm:"default:null"`
	AnchorChapter       *int                             `gorm:"default:null"`
	AnchorVerseStart    *int                             `gorm:"default:null"`
	AnchorVerseEnd      *int                             `gorm:"default:null"`
	Messages            datatypes.JSONSlice[MessageData] `gorm:"type:jsonb"`
	SummaryText         *string                          `gorm:"type:text"`
	SummaryMessageCount int                              `gorm:"default:0"`
	SummaryCreatedAt    *time.Time
	CreatedAt           time.Time      `gorm:"autoCreateTime"`
	UpdatedAt           time.Time      `gorm:"autoUpdateTime"`
	DeletedAt           gorm.DeletedAt `gorm:"index"`
}

func (Thread) TableName() string {
	return "threads"
}

// MessageData is the JSON shape of one message inside threads.messages.
type MessageData struct {
	Id                 uuid.UUID      `json:"id"`
	Role               string         `json:"role"`
	Content            string         `json:"content"`
	ResponseType       string         `json:"response_type,omitempty"`
	Citations          []CitationData `json:"citations,omitempty"`
	UncertaintyLevel   string         `json:"uncertainty_level,omitempty"`
	SuggestedFollowUps []string       `json:"suggested_follow_ups,omitempty"`
	Status             string         `json:"status,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

type CitationData struct {
	BookId     int  `json:"book_id"`
	Chapter    int  `json:"chapter"`
	VerseStart int  `json:"verse_start"`
	VerseEnd   *int `json:"verse_end,omitempty"`
}
