package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-sync-service/internal/models"
)

func newStoreService(stores *memStores, products *memProducts, tokens TokenStore, fakes map[string]*fakeCatalog) *StoreService {
	return NewStoreService(stores, products, tokens, catalogFactory(fakes), testLogger())
}

func TestRegisterStore_NormalizesAndChecksConnectivity(t *testing.T) {
	stores := newMemStores()
	tokens := newMemTokens()
	fakes := map[string]*fakeCatalog{"shop-a.myshopify.com": newFakeCatalog("shop-a.myshopify.com")}
	svc := newStoreService(stores, newMemProducts(), tokens, fakes)

	result, err := svc.RegisterStore(context.Background(), RegisterStoreInput{
		Domain:      "https://Shop-A.myshopify.com/admin",
		AccessToken: " shpat_123 ",
	})
	require.NoError(t, err)
	assert.True(t, result.Result.OK)
	assert.Equal(t, "shop-a.myshopify.com", result.Store.Domain)
	assert.Equal(t, "shop-a.myshopify.com", result.Store.Name)

	stored := stores.get("shop-a.myshopify.com")
	assert.True(t, stored.Connected)
	assert.NotNil(t, stored.LastCheck)
	assert.Equal(t, "mem/shop-a.myshopify.com", stored.SecretReference)
	assert.Equal(t, "shpat_123", tokens.tokens["shop-a.myshopify.com"])

	_, err = svc.RegisterStore(context.Background(), RegisterStoreInput{Domain: "shop-a", AccessToken: "x"})
	assert.True(t, errors.Is(err, ErrDuplicateStore))
}

func TestRegisterStore_Validation(t *testing.T) {
	svc := newStoreService(newMemStores(), newMemProducts(), newMemTokens(), nil)
	ctx := context.Background()

	_, err := svc.RegisterStore(ctx, RegisterStoreInput{Domain: " ", AccessToken: "x"})
	assert.True(t, IsValidationError(err))
	_, err = svc.RegisterStore(ctx, RegisterStoreInput{Domain: "shop", AccessToken: ""})
	assert.True(t, IsValidationError(err))

	noTokens := newStoreService(newMemStores(), newMemProducts(), nil, nil)
	_, err = noTokens.RegisterStore(ctx, RegisterStoreInput{Domain: "shop", AccessToken: "x"})
	assert.True(t, errors.Is(err, ErrNoCredentialStore))
}

func TestRegisterStore_UnreachableStaysRegistered(t *testing.T) {
	fake := newFakeCatalog("down.myshopify.com")
	fake.unreachable = "401 Unauthorized"
	stores := newMemStores()
	svc := newStoreService(stores, newMemProducts(), newMemTokens(), map[string]*fakeCatalog{"down.myshopify.com": fake})

	result, err := svc.RegisterStore(context.Background(), RegisterStoreInput{Domain: "down", AccessToken: "bad"})
	require.NoError(t, err)
	assert.False(t, result.Result.OK)

	stored := stores.get("down.myshopify.com")
	assert.False(t, stored.Connected)
	assert.Equal(t, "401 Unauthorized", stored.LastError)
}

func TestTestStore_FlipsConnectedFlag(t *testing.T) {
	store := connectedStore("shop-a.myshopify.com", "A")
	stores := newMemStores(store)
	tokens := newMemTokens()
	tokens.tokens[store.Domain] = "tok"
	fake := newFakeCatalog(store.Domain)
	svc := newStoreService(stores, newMemProducts(), tokens, map[string]*fakeCatalog{store.Domain: fake})
	ctx := context.Background()

	fake.unreachable = "connection refused"
	result, err := svc.TestStore(ctx, "shop-a")
	require.NoError(t, err)
	assert.False(t, result.Result.OK)
	assert.False(t, stores.get(store.Domain).Connected)

	fake.unreachable = ""
	result, err = svc.TestStore(ctx, store.Domain)
	require.NoError(t, err)
	assert.True(t, result.Result.OK)
	assert.True(t, stores.get(store.Domain).Connected)
	assert.Empty(t, stores.get(store.Domain).LastError)

	_, err = svc.TestStore(ctx, "missing.myshopify.com")
	assert.True(t, errors.Is(err, ErrStoreNotFound))
}

func TestDeleteStore_RemovesCredential(t *testing.T) {
	store := connectedStore("shop-a.myshopify.com", "A")
	stores := newMemStores(store)
	tokens := newMemTokens()
	tokens.tokens[store.Domain] = "tok"
	svc := newStoreService(stores, newMemProducts(), tokens, nil)

	require.NoError(t, svc.DeleteStore(context.Background(), store.Domain))
	_, ok := tokens.tokens[store.Domain]
	assert.False(t, ok)

	err := svc.DeleteStore(context.Background(), store.Domain)
	assert.True(t, errors.Is(err, ErrStoreNotFound))
}

func TestDeleteStore_RunsDeleteHooks(t *testing.T) {
	store := connectedStore("shop-a.myshopify.com", "A")
	svc := newStoreService(newMemStores(store), newMemProducts(), newMemTokens(), nil)

	var deleted []string
	svc.OnDelete(func(_ context.Context, domain string) { deleted = append(deleted, domain) })

	require.NoError(t, svc.DeleteStore(context.Background(), store.Domain))
	assert.Equal(t, []string{store.Domain}, deleted)

	// a missing store runs no hooks
	assert.Error(t, svc.DeleteStore(context.Background(), store.Domain))
	assert.Len(t, deleted, 1)
}

func TestCreateRemoteProduct(t *testing.T) {
	store := connectedStore("shop-a.myshopify.com", "A")
	fake := newFakeCatalog(store.Domain)
	fake.addVariant("EXISTS", 1, 2, 3, 0)
	products := newMemProducts(
		models.Product{SKU: "NEW", Name: "New thing", Category: "Rings", Quantity: 6},
		models.Product{SKU: "EXISTS", Name: "Old thing", Quantity: 1},
	)
	svc := newStoreService(newMemStores(store), products, newMemTokens(), map[string]*fakeCatalog{store.Domain: fake})
	ctx := context.Background()

	remote, err := svc.CreateRemoteProduct(ctx, store.Domain, " NEW ")
	require.NoError(t, err)
	assert.Equal(t, int64(900), remote.ID)
	require.Len(t, fake.created, 1)
	assert.Equal(t, "New thing", fake.created[0].Title)
	assert.Equal(t, 6, fake.created[0].Quantity)
	assert.Equal(t, "Rings", fake.created[0].ProductType)

	_, err = svc.CreateRemoteProduct(ctx, store.Domain, "EXISTS")
	assert.True(t, IsValidationError(err))

	_, err = svc.CreateRemoteProduct(ctx, store.Domain, "GHOST")
	assert.True(t, errors.Is(err, ErrProductNotFound))
	assert.Len(t, fake.created, 1)
}

func TestListLocations(t *testing.T) {
	store := connectedStore("shop-a.myshopify.com", "A")
	svc := newStoreService(newMemStores(store), newMemProducts(), newMemTokens(), nil)

	locations, err := svc.ListLocations(context.Background(), store.Domain)
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.Equal(t, "Main", locations[0].Name)
}
