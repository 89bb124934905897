// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

package corev1

import (
	"encoding/json"
	"strings"
)

// variableSizeGuess is the per-element byte estimate for variable-length
// types, where the true size is unknowable without reading the data.
const variableSizeGuess = 1024

type typeWire struct {
	Class  string          `json:"class"`
	Base   json.RawMessage `json:"base,omitempty"`
	Length json.RawMessage `json:"length,omitempty"`
	Fields []struct {
		Type json.RawMessage `json:"type"`
	} `json:"fields,omitempty"`
}

// TypeItemSize estimates the per-element byte size of an element type
// described by its wire JSON. Only the base classes need exact answers:
// they drive the decision whether a dataset's initial values are small
// enough to inline into its creation payload.
func TypeItemSize(t json.RawMessage) int {
	if len(t) == 0 {
		return 0
	}

	var w typeWire
	if err := json.Unmarshal(t, &w); err != nil {
		// a predefined type given as a bare string, e.g. "H5T_STD_I32LE"
		var base string
		if err := json.Unmarshal(t, &base); err == nil {
			return baseTypeSize(base)
		}

		return variableSizeGuess
	}

	switch w.Class {
	case "H5T_INTEGER", "H5T_FLOAT":
		var base string
		if err := json.Unmarshal(w.Base, &base); err != nil {
			return variableSizeGuess
		}

		return baseTypeSize(base)
	case "H5T_STRING":
		var n int
		if err := json.Unmarshal(w.Length, &n); err == nil {
			return n
		}

		// "H5T_VARIABLE"
		return variableSizeGuess
	case "H5T_COMPOUND":
		size := 0
		for _, f := range w.Fields {
			size += TypeItemSize(f.Type)
		}

		return size
	case "H5T_VLEN":
		return variableSizeGuess
	default:
		return variableSizeGuess
	}
}

// baseTypeSize extracts the bit width from a predefined type name such as
// H5T_STD_I32LE or H5T_IEEE_F64BE and converts it to bytes.
func baseTypeSize(base string) int {
	base = strings.TrimPrefix(base, "H5T_")

	digits := 0
	value := 0

	for _, r := range base {
		if r >= '0' && r <= '9' {
			value = value*10 + int(r-'0')
			digits++
		} else if digits > 0 {
			break
		}
	}

	if digits == 0 {
		return variableSizeGuess
	}

	return value / 8
}
