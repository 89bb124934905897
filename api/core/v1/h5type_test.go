// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

//nolint:testifylint
package corev1

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeItemSize(t *testing.T) {
	cases := []struct {
		name string
		typ  string
		want int
	}{
		{"i32", `{"class": "H5T_INTEGER", "base": "H5T_STD_I32LE"}`, 4},
		{"u8", `{"class": "H5T_INTEGER", "base": "H5T_STD_U8BE"}`, 1},
		{"f64", `{"class": "H5T_FLOAT", "base": "H5T_IEEE_F64LE"}`, 8},
		{"bare predefined", `"H5T_STD_I64LE"`, 8},
		{"fixed string", `{"class": "H5T_STRING", "length": 8}`, 8},
		{"variable string", `{"class": "H5T_STRING", "length": "H5T_VARIABLE"}`, variableSizeGuess},
		{"vlen", `{"class": "H5T_VLEN", "base": {"class": "H5T_INTEGER", "base": "H5T_STD_I32LE"}}`, variableSizeGuess},
		{
			"compound",
			`{"class": "H5T_COMPOUND", "fields": [
				{"name": "a", "type": {"class": "H5T_INTEGER", "base": "H5T_STD_I16LE"}},
				{"name": "b", "type": {"class": "H5T_FLOAT", "base": "H5T_IEEE_F32LE"}}
			]}`,
			6,
		},
		{"empty", ``, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, TypeItemSize(json.RawMessage(tc.typ)))
		})
	}
}

func TestSizeEstimate(t *testing.T) {
	node := &Node{
		Type:  json.RawMessage(`{"class": "H5T_INTEGER", "base": "H5T_STD_I32LE"}`),
		Shape: &Shape{Class: ShapeSimple, Dims: []uint64{10, 20}},
	}
	assert.Equal(t, uint64(800), node.SizeEstimate())

	// Null dataspaces hold no elements
	node.Shape = &Shape{Class: ShapeNull}
	assert.Equal(t, uint64(0), node.SizeEstimate())

	// Scalar shapes hold exactly one
	node.Shape = &Shape{Class: ShapeScalar}
	assert.Equal(t, uint64(4), node.SizeEstimate())

	node.Shape = nil
	assert.Equal(t, uint64(0), node.SizeEstimate())
}
