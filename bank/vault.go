package bank

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"openlend/crypto"
	"openlend/lending"
)

var (
	ErrInvalidAsset      = errors.New("bank: asset symbol must not be empty")
	ErrInvalidAddress    = errors.New("bank: address must not be zero")
	ErrReservedAddress   = errors.New("bank: vault address is reserved")
	ErrInvalidAmount     = errors.New("bank: amount must be positive")
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	ErrVaultDepleted     = errors.New("bank: vault holds insufficient funds")
)

// VaultAddress is the module account that custodies pooled funds. Deposits
// debit the user and credit this address; withdrawals do the opposite.
var VaultAddress = crypto.NewAddress(gethcrypto.Keccak256([]byte("openlend/module/vault"))[12:])

// Balance is one row of the custodial ledger.
type Balance struct {
	Address crypto.Address
	Asset   string
	Amount  *big.Int
}

// Vault is the custodial balance ledger backing the lending pools. It keeps
// address → asset → quantity and moves funds between user accounts and the
// reserved vault account. All quantities handed out are copies.
type Vault struct {
	mu       sync.RWMutex
	balances map[string]map[string]*big.Int
}

var _ lending.AssetTransfer = (*Vault)(nil)

func NewVault() *Vault {
	return &Vault{balances: make(map[string]map[string]*big.Int)}
}

// TransferIn moves qty of asset from the user into vault custody.
func (v *Vault) TransferIn(asset string, from crypto.Address, qty *big.Int) error {
	normalized, err := checkTransfer(asset, from, qty)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.debit(from, normalized, qty); err != nil {
		return err
	}
	v.credit(VaultAddress, normalized, qty)
	return nil
}

// TransferOut releases qty of asset from vault custody to the user.
func (v *Vault) TransferOut(asset string, to crypto.Address, qty *big.Int) error {
	normalized, err := checkTransfer(asset, to, qty)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.debit(VaultAddress, normalized, qty); err != nil {
		return err
	}
	v.credit(to, normalized, qty)
	return nil
}

// Mint credits freshly issued funds to the user and returns the updated
// balance. Intended for genesis allocations and the dev-mode faucet.
func (v *Vault) Mint(user crypto.Address, asset string, qty *big.Int) (*big.Int, error) {
	normalized, err := checkTransfer(asset, user, qty)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.credit(user, normalized, qty)
	return new(big.Int).Set(v.balance(user, normalized)), nil
}

// SetBalance overwrites the user's holding of asset. A zero quantity removes
// the row. Used when restoring a checkpoint or seeding genesis state.
func (v *Vault) SetBalance(user crypto.Address, asset string, qty *big.Int) error {
	normalized := lending.NormalizeAsset(asset)
	if normalized == "" {
		return ErrInvalidAsset
	}
	if user.IsZero() {
		return ErrInvalidAddress
	}
	if qty == nil || qty.Sign() < 0 {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	key := string(user.Bytes())
	if qty.Sign() == 0 {
		if assets, ok := v.balances[key]; ok {
			delete(assets, normalized)
			if len(assets) == 0 {
				delete(v.balances, key)
			}
		}
		return nil
	}
	assets, ok := v.balances[key]
	if !ok {
		assets = make(map[string]*big.Int)
		v.balances[key] = assets
	}
	assets[normalized] = new(big.Int).Set(qty)
	return nil
}

// BalanceOf returns the user's holding of asset, zero when absent.
func (v *Vault) BalanceOf(user crypto.Address, asset string) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return new(big.Int).Set(v.balance(user, lending.NormalizeAsset(asset)))
}

// PoolBalance returns the custody held by the vault account for asset.
func (v *Vault) PoolBalance(asset string) *big.Int {
	return v.BalanceOf(VaultAddress, asset)
}

// Balances snapshots every non-zero row ordered by address bytes, then asset.
// The order is stable so checkpoints of the same ledger hash identically.
func (v *Vault) Balances() []Balance {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.balances))
	for key := range v.balances {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	rows := make([]Balance, 0, len(keys))
	for _, key := range keys {
		assets := v.balances[key]
		symbols := make([]string, 0, len(assets))
		for symbol := range assets {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
		addr := crypto.NewAddress([]byte(key))
		for _, symbol := range symbols {
			rows = append(rows, Balance{
				Address: addr,
				Asset:   symbol,
				Amount:  new(big.Int).Set(assets[symbol]),
			})
		}
	}
	return rows
}

func checkTransfer(asset string, user crypto.Address, qty *big.Int) (string, error) {
	normalized := lending.NormalizeAsset(asset)
	if normalized == "" {
		return "", ErrInvalidAsset
	}
	if user.IsZero() {
		return "", ErrInvalidAddress
	}
	if user.Equal(VaultAddress) {
		return "", ErrReservedAddress
	}
	if qty == nil || qty.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	return normalized, nil
}

// balance reads without copying; callers hold the lock and must not mutate.
func (v *Vault) balance(user crypto.Address, asset string) *big.Int {
	if assets, ok := v.balances[string(user.Bytes())]; ok {
		if amount, ok := assets[asset]; ok {
			return amount
		}
	}
	return big.NewInt(0)
}

func (v *Vault) credit(user crypto.Address, asset string, qty *big.Int) {
	key := string(user.Bytes())
	assets, ok := v.balances[key]
	if !ok {
		assets = make(map[string]*big.Int)
		v.balances[key] = assets
	}
	current, ok := assets[asset]
	if !ok {
		current = big.NewInt(0)
		assets[asset] = current
	}
	current.Add(current, qty)
}

func (v *Vault) debit(user crypto.Address, asset string, qty *big.Int) error {
	key := string(user.Bytes())
	assets, ok := v.balances[key]
	current := big.NewInt(0)
	if ok {
		if amount, found := assets[asset]; found {
			current = amount
		}
	}
	if current.Cmp(qty) < 0 {
		if user.Equal(VaultAddress) {
			return fmt.Errorf("%w: %s custody %s, requested %s", ErrVaultDepleted, asset, current, qty)
		}
		return fmt.Errorf("%w: %s holds %s %s, requested %s", ErrInsufficientFunds, user, current, asset, qty)
	}
	current.Sub(current, qty)
	if current.Sign() == 0 {
		delete(assets, asset)
		if len(assets) == 0 {
			delete(v.balances, key)
		}
	}
	return nil
}
