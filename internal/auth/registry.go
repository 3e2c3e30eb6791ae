/*
 * Copyright (c) 2026 PatientDB Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package auth manages PatientDB identities and their permission grants.

Identity records live in the same store as clinical data, under the
reserved "user:" prefix, as JSON. A record never holds a password:
account creation derives an SRP-6a verifier from the password and
stores only the verifier string, which is sufficient for the server
side of the handshake but useless for impersonating the client.

Permission grants live under "perm:<subject>" as concatenated binary
permission entries (see internal/codec). Resolution loads the entries
for the identity, its groups, and the wildcard subject into one
perm.Set immediately after a successful handshake; a session whose
set is empty is refused every read.
*/
package auth

import (
	"encoding/json"
	"fmt"

	"github.com/opencoff/go-srp"

	"patientdb/internal/codec"
	"patientdb/internal/errors"
	"patientdb/internal/perm"
	"patientdb/internal/record"
	"patientdb/internal/storage"
)

// SRPBits is the prime-field size used for all verifiers. Verifiers
// encode their own field size, so this only governs new accounts.
const SRPBits = 2048

// Identity is one stored account.
type Identity struct {
	ID       uint64   `json:"id"`
	Name     string   `json:"name"`
	RealName string   `json:"realname,omitempty"`
	Groups   []uint64 `json:"groups,omitempty"`

	// Verifier is the encoded SRP verifier (identity hash, salt and
	// verifier value) produced at account creation.
	Verifier string `json:"verifier"`
}

// UserInfo projects the identity into its client-visible profile.
func (i *Identity) UserInfo() *record.UserInfo {
	return &record.UserInfo{
		ID:       i.ID,
		Name:     i.Name,
		RealName: i.RealName,
		Groups:   append([]uint64(nil), i.Groups...),
	}
}

// Registry persists identities and grants.
type Registry struct {
	store *storage.Store
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store *storage.Store) *Registry {
	return &Registry{store: store}
}

// NewVerifier derives the SRP verifier string for a new account.
// This runs on whichever side knows the password; the result is what
// gets stored.
func NewVerifier(name, password string) (string, error) {
	s, err := srp.New(SRPBits)
	if err != nil {
		return "", fmt.Errorf("srp setup: %w", err)
	}
	v, err := s.Verifier([]byte(name), []byte(password))
	if err != nil {
		return "", fmt.Errorf("srp verifier: %w", err)
	}
	_, vh := v.Encode()
	return vh, nil
}

// CreateUser stores a new identity inside the given transaction,
// minting its id from the store's counter. The caller commits.
func (r *Registry) CreateUser(txn *storage.Txn, name, realName, verifier string, groups []uint64) (*Identity, error) {
	if name == "" {
		return nil, errors.MissingField("name")
	}
	if verifier == "" {
		return nil, errors.MissingField("verifier")
	}

	key := record.UserKey(name)
	if _, err := txn.Get(key); err == nil {
		return nil, errors.Duplicate("identity " + name)
	} else if err != storage.ErrNotFound {
		return nil, errors.IO(err)
	}

	id, err := txn.ReserveIDs(1)
	if err != nil {
		return nil, errors.IDReservation(1, 0).WithCause(err)
	}

	ident := &Identity{
		ID:       id,
		Name:     name,
		RealName: realName,
		Groups:   groups,
		Verifier: verifier,
	}
	data, err := json.Marshal(ident)
	if err != nil {
		return nil, errors.IO(err)
	}
	if err := txn.Put(key, data); err != nil {
		return nil, errors.IO(err)
	}
	return ident, nil
}

// Lookup loads an identity by name.
func (r *Registry) Lookup(name string) (*Identity, error) {
	data, err := r.store.Get(record.UserKey(name))
	if err == storage.ErrNotFound {
		return nil, errors.UnknownIdentity(name)
	}
	if err != nil {
		return nil, errors.IO(err)
	}

	var ident Identity
	if err := json.Unmarshal(data, &ident); err != nil {
		return nil, errors.IO(err)
	}
	return &ident, nil
}

// ServerSession begins the server side of an SRP handshake for the
// named identity, against the client's opening credentials.
func (r *Registry) ServerSession(name, clientCreds string) (*srp.Server, error) {
	ident, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}

	_, pubA, err := srp.ServerBegin(clientCreds)
	if err != nil {
		return nil, errors.KeyExchangeFailed().WithCause(err)
	}
	s, v, err := srp.MakeSRPVerifier(ident.Verifier)
	if err != nil {
		return nil, errors.KeyExchangeFailed().WithCause(err)
	}
	srv, err := s.NewServer(v, pubA)
	if err != nil {
		return nil, errors.KeyExchangeFailed().WithCause(err)
	}
	return srv, nil
}

// Grant appends a permission entry for a subject inside the given
// transaction. Entries for one subject live in one record; Merge
// semantics apply when the set is loaded, not here.
func (r *Registry) Grant(txn *storage.Txn, e perm.Entry) error {
	key := record.PermKey(e.Subject)

	existing, err := txn.Get(key)
	if err != nil && err != storage.ErrNotFound {
		return errors.IO(err)
	}

	w := codec.NewWriter(codec.EncodingUTF8)
	w.Raw(existing)
	if err := codec.AppendPermissionEntry(w, e); err != nil {
		return err
	}
	return txn.Put(key, w.Bytes())
}

// PermissionsFor loads the effective permission set for an identity:
// the wildcard subject's entries, the identity's own, and every
// group's, merged in that order.
func (r *Registry) PermissionsFor(ident *Identity) (*perm.Set, error) {
	set := perm.NewSet()

	subjects := perm.Subjects(ident.ID, ident.Groups)
	for _, subject := range subjects {
		data, err := r.store.Get(record.PermKey(subject))
		if err == storage.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, errors.GroupResolution(err)
		}
		entries, err := codec.DecodePermissionEntries(data, codec.EncodingUTF8)
		if err != nil {
			return nil, errors.GroupResolution(err)
		}
		for _, e := range entries {
			set.Add(e)
		}
	}
	return set, nil
}
