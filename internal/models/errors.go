package models

import "errors"

// Общие ошибки доменного слоя.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrValidation    = errors.New("validation error")
	ErrJobNotPending = errors.New("job is not in pending status")
	// ErrPartConflict возвращается при нарушении optimistic-concurrency
	// проверки на последней части истории (два хода отправлены одновременно).
	ErrPartConflict = errors.New("story part was modified concurrently")
	ErrStoryHasNoParts = errors.New("story has no parts")
)
