package core

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type versionEntry struct {
	info VersionInfo
	data []byte
}

type keyRecord struct {
	versions []versionEntry // ascending, versions[i].info.Version == i+1
}

func (k *keyRecord) latest() (versionEntry, bool) {
	if len(k.versions) == 0 {
		return versionEntry{}, false
	}
	return k.versions[len(k.versions)-1], true
}

type namespaceRecord struct {
	quotaBytes int64
	usedBytes  int64
	parent     string
	keys       map[string]*keyRecord
}

func cloneNamespace(n *namespaceRecord) *namespaceRecord {
	cp := &namespaceRecord{quotaBytes: n.quotaBytes, usedBytes: n.usedBytes, parent: n.parent, keys: make(map[string]*keyRecord, len(n.keys))}
	for k, rec := range n.keys {
		vers := make([]versionEntry, len(rec.versions))
		copy(vers, rec.versions)
		cp.keys[k] = &keyRecord{versions: vers}
	}
	return cp
}

func cloneAccount(a *ResourceAccount) *ResourceAccount {
	cp := *a
	cp.History = append([]ResourceUsageEntry(nil), a.History...)
	return &cp
}

// MemoryStorage is the flat in-memory Storage backend: namespace → key →
// [versions]. Transactions buffer changes by snapshotting the live state at
// Begin and restoring it wholesale on Rollback, giving read-your-writes for
// free since all operations during the transaction act on the same live
// maps; atomicity on crash is irrelevant to a process-local backend.
type MemoryStorage struct {
	mu         sync.Mutex
	namespaces map[string]*namespaceRecord
	accounts   map[string]*ResourceAccount
	sink       EventSink

	txActive    bool
	txImplicit  bool
	snapshotNS  map[string]*namespaceRecord
	snapshotAcc map[string]*ResourceAccount
}

// NewMemoryStorage constructs an empty in-memory backend. sink may be nil,
// in which case storage events are silently dropped.
func NewMemoryStorage(sink EventSink) *MemoryStorage {
	return &MemoryStorage{
		namespaces: make(map[string]*namespaceRecord),
		accounts:   make(map[string]*ResourceAccount),
		sink:       sink,
	}
}

func (m *MemoryStorage) emit(category, message string, fields map[string]interface{}) {
	if m.sink != nil {
		m.sink.Emit(category, message, fields)
	}
}

// BeginTx starts an explicit transaction. Nested Begin fails
// NestedTxNotSupported.
func (m *MemoryStorage) BeginTx() *VMError {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.txActive {
		return errNestedTxNotSupported()
	}
	m.beginLocked(false)
	return nil
}

func (m *MemoryStorage) beginLocked(implicit bool) {
	m.txActive = true
	m.txImplicit = implicit
	m.snapshotNS = make(map[string]*namespaceRecord, len(m.namespaces))
	for k, v := range m.namespaces {
		m.snapshotNS[k] = cloneNamespace(v)
	}
	m.snapshotAcc = make(map[string]*ResourceAccount, len(m.accounts))
	for k, v := range m.accounts {
		m.snapshotAcc[k] = cloneAccount(v)
	}
}

// CommitTx makes the transaction's writes durable, after validating the
// resource-account invariant (used_bytes ≤ quota_bytes) for every account.
func (m *MemoryStorage) CommitTx() *VMError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commitLocked()
}

func (m *MemoryStorage) commitLocked() *VMError {
	if !m.txActive {
		return errNoActiveTx()
	}
	for _, acc := range m.accounts {
		if acc.UsedBytes > acc.QuotaBytes {
			m.rollbackLocked()
			return errQuotaExceeded("storage", acc.UsedBytes, acc.QuotaBytes)
		}
	}
	m.txActive = false
	m.txImplicit = false
	m.snapshotNS = nil
	m.snapshotAcc = nil
	m.emit(EventCategoryStorageTransaction, "commit", nil)
	return nil
}

// RollbackTx discards all writes buffered since Begin.
func (m *MemoryStorage) RollbackTx() *VMError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollbackLocked()
}

func (m *MemoryStorage) rollbackLocked() *VMError {
	if !m.txActive {
		return errNoActiveTx()
	}
	m.namespaces = m.snapshotNS
	m.accounts = m.snapshotAcc
	m.txActive = false
	m.txImplicit = false
	m.snapshotNS = nil
	m.snapshotAcc = nil
	m.emit(EventCategoryStorageTransaction, "rollback", nil)
	return nil
}

// withImplicitTx runs fn as its own single-op transaction when no explicit
// transaction is already open, satisfying "operations outside a transaction
// behave as an implicit single-op transaction."
func (m *MemoryStorage) withImplicitTx(fn func() *VMError) *VMError {
	m.mu.Lock()
	startedHere := false
	if !m.txActive {
		m.beginLocked(true)
		startedHere = true
	}
	m.mu.Unlock()

	err := fn()

	if startedHere {
		m.mu.Lock()
		defer m.mu.Unlock()
		if err != nil {
			m.rollbackLocked()
			return err
		}
		return m.commitLocked()
	}
	return err
}

func (m *MemoryStorage) CreateNamespace(auth *AuthContext, ns string, quotaBytes int64, parent string) *VMError {
	if verr := validateNamespace(ns); verr != nil {
		return verr
	}
	if verr := authorize(auth, ns, "write"); verr != nil {
		return verr
	}
	return m.withImplicitTx(func() *VMError {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, exists := m.namespaces[ns]; exists {
			return nil
		}
		m.namespaces[ns] = &namespaceRecord{quotaBytes: quotaBytes, parent: parent, keys: make(map[string]*keyRecord)}
		m.emit(EventCategoryStorageResource, "create_namespace", map[string]interface{}{"ns": ns, "user": callerOf(auth)})
		return nil
	})
}

func (m *MemoryStorage) CreateAccount(auth *AuthContext, userID string, quotaBytes int64) *VMError {
	if verr := authorize(auth, DefaultNamespace, "write"); verr != nil {
		return verr
	}
	return m.withImplicitTx(func() *VMError {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, exists := m.accounts[userID]; exists {
			return nil
		}
		m.accounts[userID] = &ResourceAccount{UserID: userID, QuotaBytes: quotaBytes}
		m.emit(EventCategoryStorageResource, "create_account", map[string]interface{}{"user": userID})
		return nil
	})
}

func (m *MemoryStorage) Account(userID string) *ResourceAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[userID]
	if !ok {
		return nil
	}
	return cloneAccount(acc)
}

func (m *MemoryStorage) Get(auth *AuthContext, ns, key string) ([]byte, *VMError) {
	if verr := authorize(auth, ns, "read"); verr != nil {
		return nil, verr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	nsRec, ok := m.namespaces[ns]
	if !ok {
		return nil, errStorageNotFound(ns, key)
	}
	rec, ok := nsRec.keys[key]
	if !ok {
		return nil, errStorageNotFound(ns, key)
	}
	v, ok := rec.latest()
	if !ok || v.info.Deleted {
		return nil, errStorageNotFound(ns, key)
	}
	m.emit(EventCategoryStorageAccess, "get", map[string]interface{}{"ns": ns, "key": key, "user": callerOf(auth)})
	return v.data, nil
}

func (m *MemoryStorage) Set(auth *AuthContext, ns, key string, value []byte) *VMError {
	if verr := authorize(auth, ns, "write"); verr != nil {
		return verr
	}
	return m.withImplicitTx(func() *VMError {
		m.mu.Lock()
		defer m.mu.Unlock()
		nsRec, ok := m.namespaces[ns]
		if !ok {
			return errStorageNotFound(ns, key)
		}
		rec, ok := nsRec.keys[key]
		if !ok {
			rec = &keyRecord{}
			nsRec.keys[key] = rec
		}
		prevSize := 0
		if last, ok := rec.latest(); ok && !last.info.Deleted {
			prevSize = len(last.data)
		}
		checksum, _ := computeChecksum(value)
		version := len(rec.versions) + 1
		rec.versions = append(rec.versions, versionEntry{
			info: VersionInfo{Version: version, Timestamp: time.Now().UTC(), Author: callerOf(auth), Checksum: checksum},
			data: append([]byte(nil), value...),
		})
		delta := int64(len(value) - prevSize)
		m.applyDelta(callerOf(auth), delta, "set")
		m.emit(EventCategoryStorageAccess, "set", map[string]interface{}{"ns": ns, "key": key, "user": callerOf(auth), "version": version})
		return nil
	})
}

func (m *MemoryStorage) applyDelta(userID string, delta int64, op string) {
	acc, ok := m.accounts[userID]
	if !ok {
		return
	}
	acc.UsedBytes += delta
	acc.History = append(acc.History, ResourceUsageEntry{Timestamp: time.Now().UTC(), Delta: delta, Operation: op})
}

func (m *MemoryStorage) Delete(auth *AuthContext, ns, key string) *VMError {
	if verr := authorize(auth, ns, "delete"); verr != nil {
		return verr
	}
	return m.withImplicitTx(func() *VMError {
		m.mu.Lock()
		defer m.mu.Unlock()
		nsRec, ok := m.namespaces[ns]
		if !ok {
			return errStorageNotFound(ns, key)
		}
		rec, ok := nsRec.keys[key]
		if !ok {
			return errStorageNotFound(ns, key)
		}
		last, ok := rec.latest()
		if !ok || last.info.Deleted {
			return errStorageNotFound(ns, key)
		}
		version := len(rec.versions) + 1
		rec.versions = append(rec.versions, versionEntry{
			info: VersionInfo{Version: version, Timestamp: time.Now().UTC(), Author: callerOf(auth), Deleted: true},
		})
		m.applyDelta(callerOf(auth), -int64(len(last.data)), "delete")
		m.emit(EventCategoryStorageAccess, "delete", map[string]interface{}{"ns": ns, "key": key, "user": callerOf(auth)})
		return nil
	})
}

func (m *MemoryStorage) Contains(auth *AuthContext, ns, key string) bool {
	if verr := authorize(auth, ns, "read"); verr != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	nsRec, ok := m.namespaces[ns]
	if !ok {
		return false
	}
	rec, ok := nsRec.keys[key]
	if !ok {
		return false
	}
	last, ok := rec.latest()
	return ok && !last.info.Deleted
}

func (m *MemoryStorage) ListKeys(auth *AuthContext, ns, prefix string) ([]string, *VMError) {
	if verr := authorize(auth, ns, "list"); verr != nil {
		return nil, verr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	nsRec, ok := m.namespaces[ns]
	if !ok {
		return nil, errStorageNotFound(ns, "")
	}
	var out []string
	for k, rec := range nsRec.keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if last, ok := rec.latest(); ok && !last.info.Deleted {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStorage) GetVersion(auth *AuthContext, ns, key string, version int) ([]byte, *VMError) {
	if verr := authorize(auth, ns, "read"); verr != nil {
		return nil, verr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	nsRec, ok := m.namespaces[ns]
	if !ok {
		return nil, errStorageNotFound(ns, key)
	}
	rec, ok := nsRec.keys[key]
	if !ok || version < 1 || version > len(rec.versions) {
		return nil, errStorageNotFound(ns, key)
	}
	return rec.versions[version-1].data, nil
}

func (m *MemoryStorage) ListVersions(auth *AuthContext, ns, key string) ([]VersionInfo, *VMError) {
	if verr := authorize(auth, ns, "read"); verr != nil {
		return nil, verr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	nsRec, ok := m.namespaces[ns]
	if !ok {
		return nil, errStorageNotFound(ns, key)
	}
	rec, ok := nsRec.keys[key]
	if !ok {
		return nil, errStorageNotFound(ns, key)
	}
	out := make([]VersionInfo, len(rec.versions))
	for i, v := range rec.versions {
		out[i] = v.info
	}
	return out, nil
}
