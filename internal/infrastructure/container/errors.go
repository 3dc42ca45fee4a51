package container

import "errors"

var (
	ErrUnknownBroker       = errors.New("unknown broker kind")
	ErrUnknownSignalSource = errors.New("unknown signal source")
)
