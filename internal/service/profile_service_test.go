package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turri/tastehub/internal/huberrors"
	"github.com/turri/tastehub/internal/models"
)

type fakeProductsLister struct {
	ids map[int64][]int64
}

func (f *fakeProductsLister) ProductIDsOfProducer(_ context.Context, producerID int64) ([]int64, error) {
	return f.ids[producerID], nil
}

type fakeBuyers struct {
	gotProductIDs []int64
	buyers        []int64
}

func (f *fakeBuyers) CustomersWhoOrdered(_ context.Context, productIDs []int64) ([]int64, error) {
	f.gotProductIDs = productIDs

	return f.buyers, nil
}

// steppingClock returns t0, t0+1h, t0+2h, ...
func steppingClock(t0 time.Time) func() time.Time {
	n := 0

	return func() time.Time {
		t := t0.Add(time.Duration(n) * time.Hour)
		n++

		return t
	}
}

func newTestProfileService(repo *memProfiles, emb *lengthEmbedder, fuser *fakeFuser, maxAttempts int) *ProfileService {
	return NewProfileService(ProfileServiceParams{
		Repo:        repo,
		Embedder:    emb,
		Fuser:       fuser,
		MaxAttempts: maxAttempts,
		Now:         steppingClock(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)),
	})
}

func TestProfileService_OnboardThenSignal(t *testing.T) {
	ctx := context.Background()
	repo := newMemProfiles()
	emb := &lengthEmbedder{}
	fuser := &fakeFuser{}
	svc := newTestProfileService(repo, emb, fuser, 0)

	onboarded, err := svc.Onboard(ctx, OnboardInput{
		CustomerID:  7,
		Description: "likes coffee",
		Taste:       constTaste(0.5),
	})
	require.NoError(t, err)
	assert.True(t, onboarded.IsOnboarded)
	assert.Equal(t, int64(1), onboarded.Version)
	assert.Equal(t, []float32{float32(len("likes coffee"))}, onboarded.Embedding)
	require.NotNil(t, onboarded.LastChatbotUpdate)
	assert.Nil(t, onboarded.LastPurchaseUpdate)
	assert.Nil(t, onboarded.LastAnalyticsUpdate)
	assert.Equal(t, 0, fuser.calls, "onboarding never fuses")

	chatbotAt := *onboarded.LastChatbotUpdate

	updated, err := svc.ApplySignal(ctx, models.Signal{
		CustomerID:  7,
		Description: "bought beans",
		Taste:       constTaste(1),
		Source:      models.SourcePurchaseHistory,
	})
	require.NoError(t, err)

	assert.Equal(t, "likes coffee + bought beans", updated.Description)
	assert.Equal(t, []float32{float32(len("likes coffee + bought beans"))}, updated.Embedding)

	for i, x := range updated.Taste {
		assert.InDelta(t, 0.6, x, 1e-9, "taste[%d]", i)
	}

	assert.True(t, updated.IsOnboarded)
	assert.Equal(t, int64(2), updated.Version)
	require.NotNil(t, updated.LastChatbotUpdate)
	assert.True(t, chatbotAt.Equal(*updated.LastChatbotUpdate), "chatbot timestamp untouched")
	require.NotNil(t, updated.LastPurchaseUpdate)
	assert.True(t, updated.LastPurchaseUpdate.After(chatbotAt))
	assert.Nil(t, updated.LastAnalyticsUpdate)
}

func TestProfileService_SequentialSourcesStampOnlyTheirOwn(t *testing.T) {
	ctx := context.Background()
	repo := newMemProfiles()
	repo.put(models.CustomerProfile{CustomerID: 5, Description: "likes cheese", Taste: constTaste(0.5), Version: 1})
	svc := newTestProfileService(repo, &lengthEmbedder{}, &fakeFuser{}, 0)

	steps := []struct {
		source models.Source
		taste  float64
		want   float64
	}{
		{models.SourceChatbot, 0.5, 0.5},
		{models.SourcePurchaseHistory, 1, 0.6},
		{models.SourceWebAnalytics, 0, 0.48},
	}

	var prev *models.CustomerProfile

	for _, step := range steps {
		got, err := svc.ApplySignal(ctx, models.Signal{
			CustomerID:  5,
			Description: "signal from " + string(step.source),
			Taste:       constTaste(step.taste),
			Source:      step.source,
		})
		require.NoError(t, err, step.source)

		for i, x := range got.Taste {
			assert.InDelta(t, step.want, x, 1e-9, "%s taste[%d]", step.source, i)
		}

		if prev != nil {
			for _, pair := range []struct {
				source      models.Source
				before, now *time.Time
			}{
				{models.SourceChatbot, prev.LastChatbotUpdate, got.LastChatbotUpdate},
				{models.SourcePurchaseHistory, prev.LastPurchaseUpdate, got.LastPurchaseUpdate},
				{models.SourceWebAnalytics, prev.LastAnalyticsUpdate, got.LastAnalyticsUpdate},
			} {
				if pair.source == step.source {
					require.NotNil(t, pair.now)

					continue
				}

				assert.Equal(t, pair.before, pair.now, "%s stamp changed by %s", pair.source, step.source)
			}
		}

		prev = got
	}

	require.NotNil(t, prev.LastChatbotUpdate)
	require.NotNil(t, prev.LastPurchaseUpdate)
	require.NotNil(t, prev.LastAnalyticsUpdate)
	assert.True(t, prev.LastChatbotUpdate.Before(*prev.LastPurchaseUpdate))
	assert.True(t, prev.LastPurchaseUpdate.Before(*prev.LastAnalyticsUpdate))
	assert.Equal(t, int64(4), prev.Version)
}

func TestProfileService_OnboardOverwrites(t *testing.T) {
	ctx := context.Background()
	repo := newMemProfiles()
	repo.put(models.CustomerProfile{CustomerID: 3, Description: "old", Taste: constTaste(1), Version: 4})
	svc := newTestProfileService(repo, &lengthEmbedder{}, &fakeFuser{}, 0)

	saved, err := svc.Onboard(ctx, OnboardInput{CustomerID: 3, Description: "new", Taste: constTaste(0)})
	require.NoError(t, err)
	assert.Equal(t, "new", saved.Description)
	assert.Equal(t, constTaste(0), saved.Taste)
	assert.Equal(t, int64(5), saved.Version)
}

func TestProfileService_ApplySignalCreatesProfile(t *testing.T) {
	repo := newMemProfiles()
	fuser := &fakeFuser{}
	svc := newTestProfileService(repo, &lengthEmbedder{}, fuser, 0)

	created, err := svc.ApplySignal(context.Background(), models.Signal{
		CustomerID:  11,
		Description: "browses cheese",
		Taste:       oneHotTaste(11),
		Source:      models.SourceWebAnalytics,
	})
	require.NoError(t, err)
	assert.Equal(t, "browses cheese", created.Description)
	assert.Equal(t, oneHotTaste(11), created.Taste, "first signal is stored unblended")
	assert.False(t, created.IsOnboarded)
	assert.NotNil(t, created.LastAnalyticsUpdate)
	assert.Nil(t, created.LastChatbotUpdate)
	assert.Equal(t, 0, fuser.calls)
}

func TestProfileService_Validation(t *testing.T) {
	tests := []struct {
		name string
		sig  models.Signal
	}{
		{
			name: "non-positive customer",
			sig:  models.Signal{CustomerID: 0, Description: "x", Taste: constTaste(0), Source: models.SourceChatbot},
		},
		{
			name: "blank description",
			sig:  models.Signal{CustomerID: 1, Description: "  ", Taste: constTaste(0), Source: models.SourceChatbot},
		},
		{
			name: "short taste vector",
			sig:  models.Signal{CustomerID: 1, Description: "x", Taste: models.TasteVector{1, 0}, Source: models.SourceChatbot},
		},
		{
			name: "out of range taste",
			sig:  models.Signal{CustomerID: 1, Description: "x", Taste: constTaste(1.5), Source: models.SourceChatbot},
		},
		{
			name: "unknown source",
			sig:  models.Signal{CustomerID: 1, Description: "x", Taste: constTaste(0), Source: "newsletter"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemProfiles()
			repo.put(models.CustomerProfile{CustomerID: 1, Description: "kept", Taste: constTaste(0.2), Version: 1})

			emb := &lengthEmbedder{}
			fuser := &fakeFuser{}
			svc := newTestProfileService(repo, emb, fuser, 0)

			_, err := svc.ApplySignal(context.Background(), tt.sig)
			require.ErrorIs(t, err, huberrors.ErrValidation)

			assert.Equal(t, 0, repo.writeCount())
			assert.Equal(t, 0, emb.callCount())
			assert.Equal(t, 0, fuser.calls)

			stored, _ := repo.get(1)
			assert.Equal(t, "kept", stored.Description)
		})
	}

	t.Run("onboarding", func(t *testing.T) {
		repo := newMemProfiles()
		svc := newTestProfileService(repo, &lengthEmbedder{}, &fakeFuser{}, 0)

		_, err := svc.Onboard(context.Background(), OnboardInput{CustomerID: 1, Description: "", Taste: constTaste(0)})
		require.ErrorIs(t, err, huberrors.ErrValidation)
		assert.Equal(t, 0, repo.writeCount())
	})
}

func TestProfileService_OracleFailureLeavesProfileUnchanged(t *testing.T) {
	existing := models.CustomerProfile{CustomerID: 5, Description: "old", Taste: constTaste(0.5), Version: 2}
	sig := models.Signal{CustomerID: 5, Description: "new", Taste: constTaste(1), Source: models.SourcePurchaseHistory}

	t.Run("embedding unavailable", func(t *testing.T) {
		repo := newMemProfiles()
		repo.put(existing)
		svc := newTestProfileService(repo, &lengthEmbedder{err: ErrOracleUnavailable}, &fakeFuser{}, 0)

		_, err := svc.ApplySignal(context.Background(), sig)
		require.ErrorIs(t, err, ErrOracleUnavailable)
		assert.True(t, IsOracleFailure(err))
		assert.Equal(t, 0, repo.writeCount())

		stored, _ := repo.get(5)
		assert.Equal(t, existing.Description, stored.Description)
		assert.Equal(t, existing.Version, stored.Version)
	})

	t.Run("fusion timeout", func(t *testing.T) {
		repo := newMemProfiles()
		repo.put(existing)
		fuser := &fakeFuser{fuseFunc: func(ctx context.Context, _, _ string, _ float64) (string, error) {
			<-ctx.Done()

			return "", ctx.Err()
		}}
		svc := NewProfileService(ProfileServiceParams{
			Repo:          repo,
			Embedder:      &lengthEmbedder{},
			Fuser:         fuser,
			OracleTimeout: 10 * time.Millisecond,
		})

		_, err := svc.ApplySignal(context.Background(), sig)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.True(t, IsOracleFailure(err))
		assert.Equal(t, 0, repo.writeCount())
	})

	t.Run("empty fused text", func(t *testing.T) {
		repo := newMemProfiles()
		repo.put(existing)
		fuser := &fakeFuser{fuseFunc: func(context.Context, string, string, float64) (string, error) {
			return "   ", nil
		}}
		svc := newTestProfileService(repo, &lengthEmbedder{}, fuser, 0)

		_, err := svc.ApplySignal(context.Background(), sig)
		require.ErrorIs(t, err, ErrEmptyFusedText)
		assert.Equal(t, 0, repo.writeCount())
	})

	t.Run("onboarding embedding unavailable", func(t *testing.T) {
		repo := newMemProfiles()
		svc := newTestProfileService(repo, &lengthEmbedder{err: ErrOracleUnavailable}, &fakeFuser{}, 0)

		_, err := svc.Onboard(context.Background(), OnboardInput{CustomerID: 9, Description: "x", Taste: constTaste(0)})
		require.ErrorIs(t, err, ErrOracleUnavailable)

		_, ok := repo.get(9)
		assert.False(t, ok)
	})
}

func TestProfileService_ConcurrentUpdateIsNotLost(t *testing.T) {
	sig := models.Signal{CustomerID: 4, Description: "C", Taste: constTaste(1), Source: models.SourceWebAnalytics}

	// The first fusion races with another writer that commits "A+B" before our write lands.
	racingFuser := func(repo *memProfiles) *fakeFuser {
		f := &fakeFuser{}
		f.fuseFunc = func(ctx context.Context, old, incoming string, _ float64) (string, error) {
			if f.calls == 1 {
				current, _ := repo.GetProfile(ctx, 4)
				current.Description = "A+B"

				if _, err := repo.SaveProfile(ctx, current, current.Version); err != nil {
					return "", err
				}
			}

			return old + " + " + incoming, nil
		}

		return f
	}

	t.Run("retry re-reads and fuses again", func(t *testing.T) {
		repo := newMemProfiles()
		repo.put(models.CustomerProfile{CustomerID: 4, Description: "A", Taste: constTaste(0), Version: 1})
		fuser := racingFuser(repo)
		svc := newTestProfileService(repo, &lengthEmbedder{}, fuser, 3)

		saved, err := svc.ApplySignal(context.Background(), sig)
		require.NoError(t, err)
		assert.Equal(t, "A+B + C", saved.Description)
		assert.Equal(t, int64(3), saved.Version)
		assert.Equal(t, 2, fuser.calls)
	})

	t.Run("conflict after max attempts", func(t *testing.T) {
		repo := newMemProfiles()
		repo.put(models.CustomerProfile{CustomerID: 4, Description: "A", Taste: constTaste(0), Version: 1})
		svc := newTestProfileService(repo, &lengthEmbedder{}, racingFuser(repo), 1)

		_, err := svc.ApplySignal(context.Background(), sig)
		require.ErrorIs(t, err, huberrors.ErrConflict)

		stored, _ := repo.get(4)
		assert.Equal(t, "A+B", stored.Description, "the other writer's update survives")
		assert.Equal(t, int64(2), stored.Version)
	})
}

func TestProfileService_Reads(t *testing.T) {
	ctx := context.Background()
	repo := newMemProfiles()
	repo.put(models.CustomerProfile{CustomerID: 1, IsOnboarded: true})
	repo.put(models.CustomerProfile{CustomerID: 2})

	buyers := &fakeBuyers{buyers: []int64{2, 1, 99}}
	svc := NewProfileService(ProfileServiceParams{
		Repo:     repo,
		Products: &fakeProductsLister{ids: map[int64][]int64{10: {100, 101}}},
		Buyers:   buyers,
	})

	t.Run("is onboarded", func(t *testing.T) {
		ok, err := svc.IsOnboarded(ctx, 1)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = svc.IsOnboarded(ctx, 2)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = svc.IsOnboarded(ctx, 404)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("is onboarded propagates store errors", func(t *testing.T) {
		broken := newMemProfiles()
		broken.getErr = errors.New("connection reset")
		_, err := NewProfileService(ProfileServiceParams{Repo: broken}).IsOnboarded(ctx, 1)
		assert.Error(t, err)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := svc.Get(ctx, 404)
		assert.ErrorIs(t, err, huberrors.ErrNotFound)
	})

	t.Run("profiles of producer", func(t *testing.T) {
		profiles, err := svc.ProfilesOfProducer(ctx, 10)
		require.NoError(t, err)
		require.Len(t, profiles, 2)
		assert.Equal(t, int64(1), profiles[0].CustomerID)
		assert.Equal(t, []int64{100, 101}, buyers.gotProductIDs)
	})

	t.Run("producer without products", func(t *testing.T) {
		profiles, err := svc.ProfilesOfProducer(ctx, 11)
		require.NoError(t, err)
		assert.Empty(t, profiles)
		assert.NotNil(t, profiles)
	})
}
