package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Variable types
const (
	VarString  = "string"
	VarToken   = "token"
	VarDynamic = "dynamic" // Value holds a generator kind, evaluated once per call
)

// Variable is a persisted global variable
type Variable struct {
	Name        string    `json:"name" yaml:"name"`
	Value       string    `json:"value" yaml:"value"`
	Type        string    `json:"type,omitempty" yaml:"type,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// IsDynamic returns true if the variable belongs to the dynamic tier
func (v *Variable) IsDynamic() bool {
	return v.Type == VarDynamic
}

// UnmarshalJSON accepts either a plain string value or a full object
func (v *Variable) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		v.Value = str
		v.Type = VarString
		return nil
	}

	type plain Variable
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.New("variable must be either a string or an object")
	}
	*v = Variable(obj)
	if v.Type == "" {
		v.Type = VarString
	}
	return nil
}

// UnmarshalYAML accepts either a plain string value or a full object
func (v *Variable) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var str string
	if err := unmarshal(&str); err == nil {
		v.Value = str
		v.Type = VarString
		return nil
	}

	type plain Variable
	var obj plain
	if err := unmarshal(&obj); err != nil {
		return errors.New("variable must be either a string or an object")
	}
	*v = Variable(obj)
	if v.Type == "" {
		v.Type = VarString
	}
	return nil
}

// Validate checks the variable configuration
func (v *Variable) Validate() error {
	if v.Name == "" {
		return errors.New("variable name cannot be empty")
	}
	switch v.Type {
	case "", VarString, VarToken, VarDynamic:
	default:
		return fmt.Errorf("variable '%s': unknown type %q", v.Name, v.Type)
	}
	return nil
}
