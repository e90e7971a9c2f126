package domain

import "errors"

// ErrDuplicateTarget возвращается при регистрации уже существующего целевого канала.
var ErrDuplicateTarget = errors.New("целевой канал уже зарегистрирован")

// ErrTargetNotFound возвращается, если целевой канал не зарегистрирован.
var ErrTargetNotFound = errors.New("целевой канал не найден")
