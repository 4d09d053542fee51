package funnel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quote-funnel-service/internal/models"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "07700 900123", want: "+447700900123"},
		{in: "+44 7700 900123", want: "+447700900123"},
		{in: "+44 (0)7700 900123", want: "+447700900123"},
		{in: "0044 7700 900123", want: "+447700900123"},
		{in: "+1 (415) 555-0100", want: "+14155550100"},
		{in: "+1 415 555 010", wantErr: true},
		{in: "+33 6 12 34 56 78", want: "+33612345678"},
		{in: "0770090", wantErr: true},
		{in: "5550100", want: "+5550100"},
		{in: "12345", wantErr: true},
		{in: "0770abc0123", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePhone(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateContact(t *testing.T) {
	valid := models.ContactDetails{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Phone:     "07700 900123",
	}
	assert.NoError(t, ValidateContact(valid))

	invalid := models.ContactDetails{
		FirstName: "A",
		LastName:  "",
		Email:     "not-an-email",
		Phone:     "+1 555",
	}
	err := ValidateContact(invalid)
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "must be at least 2 characters", verr.Fields["first_name"])
	assert.Equal(t, "is required", verr.Fields["last_name"])
	assert.Equal(t, "must be a valid email address", verr.Fields["email"])
	assert.Contains(t, verr.Fields["phone"], "+1")
}

func TestValidateContact_TrimsWhitespace(t *testing.T) {
	err := ValidateContact(models.ContactDetails{
		FirstName: "  A ",
		LastName:  "Smith",
		Email:     "a@example.com",
		Phone:     "07700900123",
	})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "first_name")
}

func TestMasking(t *testing.T) {
	assert.Equal(t, "**********123", MaskPhone("+447700900123"))
	assert.Equal(t, "a***@example.com", MaskEmail("ada@example.com"))
	assert.Equal(t, "***", MaskEmail("nope"))
}
