// Package mocks provides mock implementations for testing the catalogue generation pipeline.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the core ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	repo := mocks.NewMockJobRepository(ctrl)
//	repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(job, nil)
package mocks

// JobRepository: Create, GetByID, ListByOwner, ReserveNext, WaitForNotification, Heartbeat,
// UpdateProgress, UpdateStatus, Requeue, RequestCancel, IsCancelRequested, Delete
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_repository_mock.go github.com/target/catalogue-gen/internal/core JobRepository

// ItemRepository: AppendItem, RecordFileResult, ListByJob, GetItem
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=item_repository_mock.go github.com/target/catalogue-gen/internal/core ItemRepository

// StatusCache: Put, Get, Delete
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=status_cache_mock.go github.com/target/catalogue-gen/internal/core StatusCache

// ContentGenerator: ProcessFile
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=content_generator_mock.go github.com/target/catalogue-gen/internal/core ContentGenerator

// ReaperRepository: RecoverExpired, DeleteOldJobs, CountByStatus
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=reaper_repository_mock.go github.com/target/catalogue-gen/internal/core ReaperRepository
