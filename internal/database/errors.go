package database

import "errors"

var ErrStoreClosed = errors.New("chat store is closed")
