package oauth

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateVerifier(v *PKCEVerifier) error {
	return d.db.Create(v).Error
}

func (d *Database) GetVerifierByState(state string) (*PKCEVerifier, error) {
	var v PKCEVerifier
	if err := d.db.Where("state = ?", state).First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// ConsumeVerifier deletes a verifier after a successful code exchange.
// Reports whether this call was the one that removed it.
func (d *Database) ConsumeVerifier(state string) (bool, error) {
	res := d.db.Unscoped().Where("state = ?", state).Delete(&PKCEVerifier{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteExpiredVerifiers clears verifiers older than the TTL. Expired state
// values are rejected before lookup anyway; this keeps the table from
// accumulating abandoned flows.
func (d *Database) DeleteExpiredVerifiers(ttl time.Duration) error {
	cutoff := time.Now().Add(-ttl)
	return d.db.Unscoped().Where("created_at < ?", cutoff).Delete(&PKCEVerifier{}).Error
}

func (d *Database) GetActiveConnection(userID, broker string) (*BrokerConnection, error) {
	var conn BrokerConnection
	err := d.db.Where("user_id = ? AND broker = ? AND is_active = ?", userID, broker, true).
		First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

func (d *Database) GetConnection(userID, broker string) (*BrokerConnection, error) {
	var conn BrokerConnection
	err := d.db.Where("user_id = ? AND broker = ?", userID, broker).First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

func (d *Database) ListConnections(userID string) ([]BrokerConnection, error) {
	var conns []BrokerConnection
	if err := d.db.Where("user_id = ?", userID).Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

// UpsertConnection writes the token set for (user, broker), updating the
// existing row when one exists. Concurrent refreshes race benignly here:
// the last write wins and callers always re-read.
func (d *Database) UpsertConnection(conn *BrokerConnection) error {
	existing, err := d.GetConnection(conn.UserID, conn.Broker)
	if err != nil {
		return err
	}
	if existing == nil {
		return d.db.Create(conn).Error
	}

	existing.AccessToken = conn.AccessToken
	existing.RefreshToken = conn.RefreshToken
	existing.TokenType = conn.TokenType
	existing.ExpiresAt = conn.ExpiresAt
	existing.AccountID = conn.AccountID
	existing.Status = ConnectionStatusActive
	existing.IsActive = true
	if err := d.db.Save(existing).Error; err != nil {
		return err
	}
	*conn = *existing
	return nil
}

func (d *Database) UpdateConnection(conn *BrokerConnection) error {
	return d.db.Save(conn).Error
}

// DeactivateConnection soft-disables a connection whose refresh token no
// longer works. The row survives so the status endpoint can report it.
func (d *Database) DeactivateConnection(userID, broker string) error {
	return d.db.Model(&BrokerConnection{}).
		Where("user_id = ? AND broker = ?", userID, broker).
		Update("is_active", false).Error
}

// MarkRevocationPending flags a connection whose broker-side revocation
// failed, so local state is never optimistically deleted ahead of remote.
func (d *Database) MarkRevocationPending(userID, broker string) error {
	return d.db.Model(&BrokerConnection{}).
		Where("user_id = ? AND broker = ?", userID, broker).
		Updates(map[string]interface{}{
			"status":    ConnectionStatusRevocationPending,
			"is_active": false,
		}).Error
}

// DeleteConnection removes the row outright once the broker has confirmed
// revocation.
func (d *Database) DeleteConnection(userID, broker string) error {
	return d.db.Unscoped().
		Where("user_id = ? AND broker = ?", userID, broker).
		Delete(&BrokerConnection{}).Error
}
