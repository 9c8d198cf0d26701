// Package liststore implements the six list lookups (§4.4): user
// allow-list, address allow-list, and the user/address/fingerprint/IP/
// email-domain deny-lists plus the generic greylist. Every lookup hits
// Postgres directly — no in-process cache — because list edits must take
// effect on the very next request, per spec.
package liststore

import (
	"context"

	"github.com/onebullex/risk-engine/internal/db"
	"github.com/onebullex/risk-engine/internal/models"
)

type Store struct {
	db *db.Store
}

func New(store *db.Store) *Store {
	return &Store{db: store}
}

// IsUserAllowed checks risk_whitelist_user for a live match.
func (s *Store) IsUserAllowed(ctx context.Context, userCode string) (bool, error) {
	e, err := s.db.LookupSimple(ctx, "risk_whitelist_user", userCode)
	if err != nil {
		return false, err
	}
	return e != nil, nil
}

// IsAddressAllowed checks risk_whitelist_address for a live match, scoped
// to the given chain (or chain-agnostic rows).
func (s *Store) IsAddressAllowed(ctx context.Context, address, chain string) (bool, error) {
	e, err := s.db.LookupAddress(ctx, "risk_whitelist_address", address, chain)
	if err != nil {
		return false, err
	}
	return e != nil, nil
}

// UserDenied checks risk_blacklist_user.
func (s *Store) UserDenied(ctx context.Context, userCode string) (*models.ListEntry, error) {
	return s.db.LookupSimple(ctx, "risk_blacklist_user", userCode)
}

// AddressDenied checks risk_blacklist_address.
func (s *Store) AddressDenied(ctx context.Context, address, chain string) (*models.ListEntry, error) {
	return s.db.LookupAddress(ctx, "risk_blacklist_address", address, chain)
}

// FingerprintDenied checks risk_blacklist_fingerprint.
func (s *Store) FingerprintDenied(ctx context.Context, fingerprint string) (*models.ListEntry, error) {
	return s.db.LookupSimple(ctx, "risk_blacklist_fingerprint", fingerprint)
}

// IPDenied checks risk_blacklist_ip.
func (s *Store) IPDenied(ctx context.Context, ip string) (*models.ListEntry, error) {
	return s.db.LookupSimple(ctx, "risk_blacklist_ip", ip)
}

// EmailDomainDenied checks risk_blacklist_emaildomain.
func (s *Store) EmailDomainDenied(ctx context.Context, domain string) (*models.ListEntry, error) {
	return s.db.LookupSimple(ctx, "risk_blacklist_emaildomain", domain)
}

// Greylisted checks risk_greylist for a given entity type/value.
func (s *Store) Greylisted(ctx context.Context, entityType models.EntityType, value string) (*models.ListEntry, error) {
	return s.db.LookupGreylist(ctx, entityType, value)
}

// CheckDenyLists runs all five deny-list checks for one withdrawal attempt,
// returning the first live match found (user, then address, then
// fingerprint, then IP, then email-domain — spec.md §4.3 stage 6 order).
func (s *Store) CheckDenyLists(ctx context.Context, userCode, address, chain, fingerprint, ip, emailDomain string) (*models.ListEntry, error) {
	checks := []struct {
		entity models.EntityType
		run    func() (*models.ListEntry, error)
	}{
		{models.EntityUserCode, func() (*models.ListEntry, error) { return s.UserDenied(ctx, userCode) }},
		{models.EntityDestinationAddress, func() (*models.ListEntry, error) { return s.AddressDenied(ctx, address, chain) }},
		{models.EntityDeviceFingerprint, func() (*models.ListEntry, error) { return s.FingerprintDenied(ctx, fingerprint) }},
		{models.EntityIPAddress, func() (*models.ListEntry, error) { return s.IPDenied(ctx, ip) }},
		{models.EntityEmailDomain, func() (*models.ListEntry, error) { return s.EmailDomainDenied(ctx, emailDomain) }},
	}
	for _, c := range checks {
		entry, err := c.run()
		if err != nil {
			return nil, err
		}
		if entry != nil {
			entry.EntityType = c.entity
			return entry, nil
		}
	}
	return nil, nil
}

// CheckGreylist runs the greylist check against every entity the withdrawal
// carries, returning the first live match (spec.md §4.3 stage 7).
func (s *Store) CheckGreylist(ctx context.Context, userCode, address, fingerprint, ip, emailDomain string) (*models.ListEntry, error) {
	checks := []struct {
		entity models.EntityType
		value  string
	}{
		{models.EntityUserCode, userCode},
		{models.EntityIPAddress, ip},
		{models.EntityDeviceFingerprint, fingerprint},
		{models.EntityDestinationAddress, address},
		{models.EntityEmailDomain, emailDomain},
	}
	for _, c := range checks {
		if c.value == "" {
			continue
		}
		entry, err := s.Greylisted(ctx, c.entity, c.value)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return entry, nil
		}
	}
	return nil, nil
}
