package service

import "errors"

// ErrInvalidNote is returned for pushes that cannot be stored as sent.
var ErrInvalidNote = errors.New("invalid note")
