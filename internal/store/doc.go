// Package store provides persistent storage for the relay using SQLite.
//
// # Data Models
//
//   - User: an account that agents pair with and control clients act as
//   - APIKey: a stored credential hash (agent keys and session tokens)
//   - PairingRecord: a short-lived code issued on behalf of a user,
//     consumed exactly once when redeemed
//
// Only SHA-256 hashes of credentials are persisted; the raw key material
// exists solely in the HTTP response that minted it.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// Database file locations:
//
//   - Production: /var/lib/tether/relay.db
//   - Development: ~/.local/share/tether/relay.db
//   - Testing: :memory: (in-memory database)
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist (also covers expired
//     pairing codes)
//   - ErrDuplicateCode: Pairing code is already live
//
// All methods accept context.Context for cancellation support.
//
// # Migrations
//
// The schema is created on initialization; runMigrations applies idempotent
// column additions for databases created by earlier releases.
package store
