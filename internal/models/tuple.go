package models

import "encoding/json"

func marshalTuple(values ...interface{}) ([]byte, error) {
	return json.Marshal(values)
}

// AccountView is the public projection returned by Account-View,
// encoded as [name, code, balance].
type AccountView struct {
	Name    string
	Code    string
	Balance int64
}

func (v AccountView) MarshalJSON() ([]byte, error) {
	return marshalTuple(v.Name, v.Code, v.Balance)
}

// CodeLookup is the result of Code-Exists, encoded as [exists, name|null].
type CodeLookup struct {
	Exists bool
	Name   *string
}

func (c CodeLookup) MarshalJSON() ([]byte, error) {
	return marshalTuple(c.Exists, c.Name)
}
