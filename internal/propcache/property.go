package propcache

// StoredProperty is one persisted property row.
//
// An empty Value is the explicit unset marker. It is kept as a row so that
// "unset" stays distinguishable from "never stored".
type StoredProperty struct {
	Interface      string `db:"interface"`
	Path           string `db:"path"`
	Value          []byte `db:"value"`
	InterfaceMajor int32  `db:"interface_major"`
}

// key identifies a property within the cache.
type key struct {
	iface string
	path  string
}

func (p StoredProperty) key() key {
	return key{iface: p.Interface, path: p.Path}
}
