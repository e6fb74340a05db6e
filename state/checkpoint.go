package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"openlend/bank"
	"openlend/crypto"
	"openlend/lending"
	"openlend/storage"
)

// SchemaVersion identifies the on-disk checkpoint layout. Increment whenever
// the wire structure changes in a breaking way.
const SchemaVersion uint64 = 1

var (
	ErrNoCheckpoint   = errors.New("state: no checkpoint recorded")
	ErrSchemaMismatch = errors.New("state: schema version mismatch")
	ErrCorrupted      = errors.New("state: checkpoint digest mismatch")
)

var (
	checkpointPrefix = []byte("openlend/checkpoint/")
	latestKey        = ethcrypto.Keccak256([]byte("openlend/checkpoint/latest"))
	schemaVersionKey = ethcrypto.Keccak256([]byte("openlend/schema-version"))
)

func checkpointKey(digest []byte) []byte {
	buf := make([]byte, len(checkpointPrefix)+len(digest))
	copy(buf, checkpointPrefix)
	copy(buf[len(checkpointPrefix):], digest)
	return ethcrypto.Keccak256(buf)
}

// Snapshot carries everything a node needs to resume serving: the lending
// ledger, the custodial vault and the wall-clock second the snapshot was cut.
type Snapshot struct {
	Ledger    *lending.State
	Vault     *bank.Vault
	Timestamp int64
}

type marketWire struct {
	Asset               string
	TotalDeposited      *uint256.Int
	TotalBorrowed       *uint256.Int
	CollateralFactorBps uint64
	BorrowRateBps       uint64
	SupplyRateBps       uint64
	LastAccrualTime     uint64
	Active              bool
}

type accountWire struct {
	User             []byte
	Asset            string
	Deposited        *uint256.Int
	Borrowed         *uint256.Int
	LastInterestTime uint64
}

type aggregateWire struct {
	User       []byte
	Collateral *uint256.Int
	Borrowed   *uint256.Int
}

type balanceWire struct {
	Address []byte
	Asset   string
	Amount  *uint256.Int
}

type checkpointWire struct {
	Timestamp  uint64
	Markets    []marketWire
	Accounts   []accountWire
	Aggregates []aggregateWire
	Balances   []balanceWire
}

// Save encodes the snapshot, stores it content-addressed under its keccak
// digest and repoints the latest marker. The digest is returned so callers
// can report which checkpoint they cut.
func Save(db storage.Database, snap Snapshot) ([]byte, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database must not be nil")
	}
	if snap.Ledger == nil {
		return nil, fmt.Errorf("state: ledger must not be nil")
	}
	if snap.Vault == nil {
		return nil, fmt.Errorf("state: vault must not be nil")
	}
	wire, err := encodeSnapshot(snap)
	if err != nil {
		return nil, err
	}
	encoded, err := rlp.EncodeToBytes(wire)
	if err != nil {
		return nil, fmt.Errorf("state: encode checkpoint: %w", err)
	}
	digest := ethcrypto.Keccak256(encoded)
	if err := db.Put(checkpointKey(digest), encoded); err != nil {
		return nil, fmt.Errorf("state: store checkpoint: %w", err)
	}
	version, err := rlp.EncodeToBytes(SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("state: encode schema version: %w", err)
	}
	if err := db.Put(schemaVersionKey, version); err != nil {
		return nil, fmt.Errorf("state: store schema version: %w", err)
	}
	if err := db.Put(latestKey, digest); err != nil {
		return nil, fmt.Errorf("state: store latest marker: %w", err)
	}
	return digest, nil
}

// Load reads the latest checkpoint, verifies its digest and schema version
// and rebuilds the ledger and vault. A database without a checkpoint returns
// ErrNoCheckpoint so callers can fall through to genesis.
func Load(db storage.Database) (*Snapshot, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database must not be nil")
	}
	digest, err := LatestDigest(db)
	if err != nil {
		return nil, err
	}
	stored, err := db.Get(schemaVersionKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: missing, expected=%d", ErrSchemaMismatch, SchemaVersion)
		}
		return nil, fmt.Errorf("state: read schema version: %w", err)
	}
	var version uint64
	if err := rlp.DecodeBytes(stored, &version); err != nil {
		return nil, fmt.Errorf("state: decode schema version: %w", err)
	}
	if version != SchemaVersion {
		return nil, fmt.Errorf("%w: on-disk=%d expected=%d", ErrSchemaMismatch, version, SchemaVersion)
	}
	encoded, err := db.Get(checkpointKey(digest))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: latest marker points at missing payload", ErrCorrupted)
		}
		return nil, fmt.Errorf("state: read checkpoint: %w", err)
	}
	if !bytes.Equal(ethcrypto.Keccak256(encoded), digest) {
		return nil, ErrCorrupted
	}
	var wire checkpointWire
	if err := rlp.DecodeBytes(encoded, &wire); err != nil {
		return nil, fmt.Errorf("state: decode checkpoint: %w", err)
	}
	return decodeSnapshot(&wire)
}

// LatestDigest returns the digest of the most recent checkpoint.
func LatestDigest(db storage.Database) ([]byte, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database must not be nil")
	}
	digest, err := db.Get(latestKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("state: read latest marker: %w", err)
	}
	return digest, nil
}

func encodeSnapshot(snap Snapshot) (*checkpointWire, error) {
	timestamp, err := toWireTime(snap.Timestamp, "checkpoint timestamp")
	if err != nil {
		return nil, err
	}
	wire := &checkpointWire{Timestamp: timestamp}

	for _, market := range snap.Ledger.Markets() {
		deposited, err := toWireQuantity(market.TotalDeposited, market.Asset+" total deposited")
		if err != nil {
			return nil, err
		}
		borrowed, err := toWireQuantity(market.TotalBorrowed, market.Asset+" total borrowed")
		if err != nil {
			return nil, err
		}
		accrual, err := toWireTime(market.LastAccrualTime, market.Asset+" accrual time")
		if err != nil {
			return nil, err
		}
		wire.Markets = append(wire.Markets, marketWire{
			Asset:               market.Asset,
			TotalDeposited:      deposited,
			TotalBorrowed:       borrowed,
			CollateralFactorBps: market.CollateralFactorBps,
			BorrowRateBps:       market.BorrowRateBps,
			SupplyRateBps:       market.SupplyRateBps,
			LastAccrualTime:     accrual,
			Active:              market.Active,
		})
	}

	for _, rec := range snap.Ledger.Accounts() {
		deposited, err := toWireQuantity(rec.Deposited, "account deposited")
		if err != nil {
			return nil, err
		}
		borrowed, err := toWireQuantity(rec.Borrowed, "account borrowed")
		if err != nil {
			return nil, err
		}
		settled, err := toWireTime(rec.LastInterestTime, "account interest time")
		if err != nil {
			return nil, err
		}
		wire.Accounts = append(wire.Accounts, accountWire{
			User:             rec.User.Bytes(),
			Asset:            rec.Asset,
			Deposited:        deposited,
			Borrowed:         borrowed,
			LastInterestTime: settled,
		})
	}

	for _, agg := range snap.Ledger.UserAggregates() {
		collateral, err := toWireQuantity(agg.Collateral, "aggregate collateral")
		if err != nil {
			return nil, err
		}
		borrowed, err := toWireQuantity(agg.Borrowed, "aggregate borrowed")
		if err != nil {
			return nil, err
		}
		wire.Aggregates = append(wire.Aggregates, aggregateWire{
			User:       agg.User.Bytes(),
			Collateral: collateral,
			Borrowed:   borrowed,
		})
	}

	for _, row := range snap.Vault.Balances() {
		amount, err := toWireQuantity(row.Amount, row.Asset+" balance")
		if err != nil {
			return nil, err
		}
		wire.Balances = append(wire.Balances, balanceWire{
			Address: row.Address.Bytes(),
			Asset:   row.Asset,
			Amount:  amount,
		})
	}
	return wire, nil
}

func decodeSnapshot(wire *checkpointWire) (*Snapshot, error) {
	ledger := lending.NewState()
	for _, market := range wire.Markets {
		record := &lending.Market{
			Asset:               market.Asset,
			TotalDeposited:      fromWireQuantity(market.TotalDeposited),
			TotalBorrowed:       fromWireQuantity(market.TotalBorrowed),
			CollateralFactorBps: market.CollateralFactorBps,
			BorrowRateBps:       market.BorrowRateBps,
			SupplyRateBps:       market.SupplyRateBps,
			LastAccrualTime:     int64(market.LastAccrualTime),
			Active:              market.Active,
		}
		if err := ledger.RestoreMarket(record); err != nil {
			return nil, fmt.Errorf("state: restore market %s: %w", market.Asset, err)
		}
	}
	for _, rec := range wire.Accounts {
		user, err := fromWireAddress(rec.User)
		if err != nil {
			return nil, err
		}
		record := &lending.AccountRecord{
			User:             user,
			Asset:            rec.Asset,
			Deposited:        fromWireQuantity(rec.Deposited),
			Borrowed:         fromWireQuantity(rec.Borrowed),
			LastInterestTime: int64(rec.LastInterestTime),
		}
		if err := ledger.RestoreAccount(record); err != nil {
			return nil, fmt.Errorf("state: restore account: %w", err)
		}
	}
	for _, agg := range wire.Aggregates {
		user, err := fromWireAddress(agg.User)
		if err != nil {
			return nil, err
		}
		ledger.RestoreAggregates(user, fromWireQuantity(agg.Collateral), fromWireQuantity(agg.Borrowed))
	}

	vault := bank.NewVault()
	for _, row := range wire.Balances {
		addr, err := fromWireAddress(row.Address)
		if err != nil {
			return nil, err
		}
		if err := vault.SetBalance(addr, row.Asset, fromWireQuantity(row.Amount)); err != nil {
			return nil, fmt.Errorf("state: restore balance: %w", err)
		}
	}
	return &Snapshot{Ledger: ledger, Vault: vault, Timestamp: int64(wire.Timestamp)}, nil
}

func toWireQuantity(q *big.Int, field string) (*uint256.Int, error) {
	if q == nil {
		return uint256.NewInt(0), nil
	}
	if q.Sign() < 0 {
		return nil, fmt.Errorf("state: %s must not be negative: %s", field, q)
	}
	value, overflow := uint256.FromBig(q)
	if overflow {
		return nil, fmt.Errorf("state: %s overflows 256 bits: %s", field, q)
	}
	return value, nil
}

func fromWireQuantity(q *uint256.Int) *big.Int {
	if q == nil {
		return big.NewInt(0)
	}
	return q.ToBig()
}

func toWireTime(ts int64, field string) (uint64, error) {
	if ts < 0 {
		return 0, fmt.Errorf("state: %s must not be negative: %d", field, ts)
	}
	return uint64(ts), nil
}

func fromWireAddress(raw []byte) (crypto.Address, error) {
	if len(raw) != crypto.AddressLength {
		return crypto.Address{}, fmt.Errorf("state: address must be %d bytes, got %d", crypto.AddressLength, len(raw))
	}
	return crypto.NewAddress(raw), nil
}
