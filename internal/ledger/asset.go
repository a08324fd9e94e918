package ledger

import "fmt"

// AssetID maps asset symbols to numeric ids for compact keys.
type AssetID uint16

// AssetCatalog is the registry of listed fungible assets. Unlike a fixed
// symbol table, assets are registered at runtime when the admin lists a pool.
// Not thread-safe; only accessed under the engine's lock.
type AssetCatalog struct {
	byID     map[AssetID]assetInfo
	bySymbol map[string]AssetID
	nextID   AssetID
}

type assetInfo struct {
	symbol   string
	decimals uint8
}

func NewAssetCatalog() *AssetCatalog {
	return &AssetCatalog{
		byID:     make(map[AssetID]assetInfo),
		bySymbol: make(map[string]AssetID),
		nextID:   1,
	}
}

// Register adds a new asset and returns its id. Registering an already-known
// symbol returns the existing id.
func (c *AssetCatalog) Register(symbol string, decimals uint8) AssetID {
	if id, ok := c.bySymbol[symbol]; ok {
		return id
	}
	id := c.nextID
	c.nextID++
	c.byID[id] = assetInfo{symbol: symbol, decimals: decimals}
	c.bySymbol[symbol] = id
	return id
}

func (c *AssetCatalog) IDOf(symbol string) (AssetID, bool) {
	id, ok := c.bySymbol[symbol]
	return id, ok
}

func (c *AssetCatalog) SymbolOf(id AssetID) (string, bool) {
	info, ok := c.byID[id]
	return info.symbol, ok
}

func (c *AssetCatalog) DecimalsOf(id AssetID) (uint8, bool) {
	info, ok := c.byID[id]
	return info.decimals, ok
}

// Symbols returns all registered symbols. Order is unspecified.
func (c *AssetCatalog) Symbols() []string {
	out := make([]string, 0, len(c.bySymbol))
	for s := range c.bySymbol {
		out = append(out, s)
	}
	return out
}

// Restore reinstates an asset under its original id, keeping nextID ahead of
// every restored entry. Used when loading a state snapshot.
func (c *AssetCatalog) Restore(id AssetID, symbol string, decimals uint8) {
	c.byID[id] = assetInfo{symbol: symbol, decimals: decimals}
	c.bySymbol[symbol] = id
	if id >= c.nextID {
		c.nextID = id + 1
	}
}

// IDs returns all registered ids. Order is unspecified.
func (c *AssetCatalog) IDs() []AssetID {
	out := make([]AssetID, 0, len(c.byID))
	for id := range c.byID {
		out = append(out, id)
	}
	return out
}

func (c *AssetCatalog) String() string {
	return fmt.Sprintf("AssetCatalog(%d assets)", len(c.byID))
}
