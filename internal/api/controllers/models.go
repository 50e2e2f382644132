package controllers

import (
	"context"

	"github.com/datallboy/nzbleecher/internal/domain"
)

// Engine is the part of the download service the remote control drives.
type Engine interface {
	Enqueue(ctx context.Context, nzbPath string) (*domain.ArchiveStatus, error)
	Cancel(ctx context.Context, id int64) error
	Postpone(ctx context.Context) (int, error)
	Resume(ctx context.Context) (int, error)
	Status() domain.QueueStatus
}

type CountResponse struct {
	Count int `json:"count"`
}

type HistoryResponse struct {
	Items []*domain.HistoryRecord `json:"items"`
}
