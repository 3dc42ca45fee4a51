package svc

import "errors"

var (
	ErrNoStrategies  = errors.New("no enabled strategies configured")
	ErrNilConfig     = errors.New("config is nil")
	ErrNoBrokerReady = errors.New("broker not initialized")
)
