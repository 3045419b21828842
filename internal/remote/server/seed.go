package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sentinelops/fleetsync/internal/models"
	"github.com/sentinelops/fleetsync/internal/remote/metastore"
)

// assetNamespace derives stable asset ids from internal ids, so seeding
// twice yields the same assets.
var assetNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://fleetsync.dev/assets"))

// AssetID returns the deterministic id for an internal asset code.
func AssetID(internalID string) string {
	return uuid.NewSHA1(assetNamespace, []byte(internalID)).String()
}

// DemoAssets are the assets inserted by Seed.
func DemoAssets() []*models.Asset {
	return []*models.Asset{
		{
			Name: "Excavadora Cat 395", InternalID: "MIN-EXC-001", Category: "heavy_machinery",
			Brand: "Caterpillar", Model: "395 Next Gen", CurrentHours: 1250,
			Status: models.AssetActive, Location: "Tajo Abierto",
		},
		{
			Name: "Perforadora Sandvik DR410i", InternalID: "MIN-PERF-002", Category: "heavy_machinery",
			Brand: "Sandvik", Model: "DR410i", CurrentHours: 3400,
			Status: models.AssetWarning, Location: "Nivel 4500",
		},
		{
			Name: "Tractor John Deere 8R", InternalID: "AGRO-TRAC-045", Category: "heavy_machinery",
			Brand: "John Deere", Model: "8R 410", CurrentHours: 890,
			Status: models.AssetDown, Location: "Fundo La Joya",
		},
	}
}

// Seed inserts the demo assets, skipping any that already exist. It returns
// the number of assets created.
func Seed(ctx context.Context, meta metastore.MetaStore) (int, error) {
	created := 0
	for _, a := range DemoAssets() {
		a.ID = AssetID(a.InternalID)
		err := meta.CreateAsset(ctx, a)
		if errors.Is(err, metastore.ErrConflict) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seed asset %s: %w", a.InternalID, err)
		}
		created++
	}
	return created, nil
}
