package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleStep struct {
	Key   string `json:"key" validate:"required,key"`
	Color string `json:"color" validate:"omitempty,hexcolor"`
}

type sampleDefinition struct {
	Name  string       `json:"name" validate:"required"`
	Steps []sampleStep `json:"steps" validate:"required,min=1,dive"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		err := ValidateStruct(sampleDefinition{Name: "ok", Steps: []sampleStep{{Key: "in_review", Color: "#FFAA00"}}})
		assert.NoError(t, err)
	})

	t.Run("reports json field paths", func(t *testing.T) {
		err := ValidateStruct(sampleDefinition{Steps: []sampleStep{{Key: "In Review"}}})

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "name", verr.First())
		require.Len(t, verr.Fields, 2)
		assert.Equal(t, "steps[0].key", verr.Fields[1].Field)
		assert.Equal(t, "key", verr.Fields[1].Tag)
	})
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail("ana@example.com"))
	assert.Error(t, ValidateEmail("not-an-email"))
}
