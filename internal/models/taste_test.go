package models

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turri/tastehub/internal/huberrors"
)

func fullTasteMap(value any) map[string]any {
	m := make(map[string]any, len(TasteKeys))
	for _, k := range TasteKeys {
		m[k] = value
	}

	return m
}

func toAnyMap(m map[string]float64) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

func issuesOf(t *testing.T, err error) []huberrors.Issue {
	t.Helper()

	var verr *huberrors.ValidationError

	require.True(t, errors.As(err, &verr), "expected *huberrors.ValidationError, got %T", err)

	return verr.Issues
}

func TestParseTasteVector(t *testing.T) {
	t.Run("accepts every key in range", func(t *testing.T) {
		raw := fullTasteMap(0.0)
		raw["Orgánico"] = 0.8
		raw["Café"] = json.Number("0.9")
		raw["Salsas"] = 1

		v, err := ParseTasteVector(raw)
		require.NoError(t, err)
		require.Len(t, v, TasteDims)

		assert.InDelta(t, 0.8, v[1], 1e-12)
		assert.InDelta(t, 0.9, v[6], 1e-12)
		assert.InDelta(t, 1.0, v[12], 1e-12)
		assert.InDelta(t, 0.0, v[0], 1e-12)
	})

	t.Run("matches decomposed accents", func(t *testing.T) {
		raw := fullTasteMap(0.5)
		delete(raw, "Café")
		raw["Cafe\u0301"] = 0.25

		v, err := ParseTasteVector(raw)
		require.NoError(t, err)
		assert.InDelta(t, 0.25, v[6], 1e-12)
	})

	t.Run("reports missing keys", func(t *testing.T) {
		raw := fullTasteMap(0.5)
		delete(raw, "Dulces")
		delete(raw, "Gourmet")

		v, err := ParseTasteVector(raw)
		require.Error(t, err)
		assert.Nil(t, v)
		assert.ErrorIs(t, err, huberrors.ErrValidation)

		issues := issuesOf(t, err)
		require.Len(t, issues, 2)
		assert.Equal(t, huberrors.Issue{Field: "Gourmet", Reason: ReasonMissing}, issues[0])
		assert.Equal(t, huberrors.Issue{Field: "Dulces", Reason: ReasonMissing}, issues[1])
	})

	t.Run("reports every bad value at once", func(t *testing.T) {
		raw := fullTasteMap(0.5)
		raw["Sin"] = "a lot"
		raw["Huevos"] = 1.5
		raw["Bebidas"] = -0.1

		_, err := ParseTasteVector(raw)
		require.Error(t, err)

		issues := issuesOf(t, err)
		require.Len(t, issues, 3)
		assert.Equal(t, "Sin", issues[0].Field)
		assert.Equal(t, ReasonNotNumeric, issues[0].Reason)
		assert.Equal(t, "Bebidas", issues[1].Field)
		assert.Equal(t, ReasonOutOfRange, issues[1].Reason)
		assert.Equal(t, "Huevos", issues[2].Field)
		assert.Equal(t, ReasonOutOfRange, issues[2].Reason)
	})

	t.Run("ignores extra labels with valid values", func(t *testing.T) {
		raw := fullTasteMap(0.5)
		raw["Vegano"] = 0.5

		v, err := ParseTasteVector(raw)
		require.NoError(t, err)
		assert.Len(t, v, TasteDims)
		assert.Equal(t, fullTasteMap(0.5), toAnyMap(v.Map()))
	})

	t.Run("still checks values of extra labels", func(t *testing.T) {
		raw := fullTasteMap(0.5)
		raw["Vegano"] = "yes"
		raw["Picante"] = 2.0

		v, err := ParseTasteVector(raw)
		require.Error(t, err)
		assert.Nil(t, v)

		issues := issuesOf(t, err)
		require.Len(t, issues, 2)
		assert.Equal(t, huberrors.Issue{Field: "Picante", Value: 2.0, Reason: ReasonOutOfRange}, issues[0])
		assert.Equal(t, huberrors.Issue{Field: "Vegano", Value: "yes", Reason: ReasonNotNumeric}, issues[1])
	})

	t.Run("rejects nil and bool values as non numeric", func(t *testing.T) {
		raw := fullTasteMap(0.5)
		raw["Gourmet"] = nil
		raw["Saludable"] = true

		_, err := ParseTasteVector(raw)

		issues := issuesOf(t, err)
		require.Len(t, issues, 2)
		assert.Equal(t, ReasonNotNumeric, issues[0].Reason)
		assert.Equal(t, ReasonNotNumeric, issues[1].Reason)
	})
}

func TestTasteVector_Validate(t *testing.T) {
	tests := []struct {
		name    string
		vector  TasteVector
		wantErr bool
		reason  string
	}{
		{name: "zero vector", vector: ZeroTaste()},
		{name: "wrong length", vector: TasteVector{0.1, 0.2}, wantErr: true, reason: ReasonLength},
		{name: "nan", vector: func() TasteVector { v := ZeroTaste(); v[3] = math.NaN(); return v }(), wantErr: true, reason: ReasonNotNumeric},
		{name: "above one", vector: func() TasteVector { v := ZeroTaste(); v[0] = 1.01; return v }(), wantErr: true, reason: ReasonOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.vector.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)

				return
			}

			issues := issuesOf(t, err)
			require.NotEmpty(t, issues)
			assert.Equal(t, tt.reason, issues[0].Reason)
		})
	}
}

func TestTasteVector_MarshalJSON(t *testing.T) {
	v := ZeroTaste()
	v[6] = 0.9

	data, err := json.Marshal(v)
	require.NoError(t, err)

	var decoded map[string]float64
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded, TasteDims)
	assert.InDelta(t, 0.9, decoded["Café"], 1e-12)
}

func TestSource(t *testing.T) {
	t.Run("parse", func(t *testing.T) {
		src, err := ParseSource("purchase_history")
		require.NoError(t, err)
		assert.Equal(t, SourcePurchaseHistory, src)

		_, err = ParseSource("email")
		assert.ErrorIs(t, err, ErrUnknownSource)
	})

	t.Run("stamp touches only its own timestamp", func(t *testing.T) {
		earlier := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		now := earlier.Add(time.Hour)
		p := &CustomerProfile{LastChatbotUpdate: &earlier}

		SourceWebAnalytics.Stamp(p, now)

		require.NotNil(t, p.LastAnalyticsUpdate)
		assert.Equal(t, now, *p.LastAnalyticsUpdate)
		assert.Equal(t, earlier, *p.LastChatbotUpdate)
		assert.Nil(t, p.LastPurchaseUpdate)
	})
}
