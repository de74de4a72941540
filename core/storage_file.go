package core

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// FileStorage is the disk-backed Storage implementation. Its layout and its
// commit discipline (journal entry + fsync + rename-in-place, replaying only
// complete journals on recovery) follow a write-ahead-log ledger's replay
// and snapshot-rename discipline.
type FileStorage struct {
	root string
	log  *logrus.Logger
	sink EventSink

	mu      sync.Mutex // serializes metadata read-modify-write within this process
	nsLocks map[string]*sync.Mutex

	tx *fileTx
}

type journalRecord struct {
	TxID     string `json:"tx_id"`
	Op       string `json:"op"` // "set", "delete", or "COMMIT"
	NS       string `json:"ns,omitempty"`
	Key      string `json:"key,omitempty"`
	Version  int    `json:"version,omitempty"`
	Size     int    `json:"size,omitempty"`
	Checksum string `json:"checksum,omitempty"`
}

type pendingWrite struct {
	ns, key string
	version int
	data    []byte
	tmpPath string
	delete  bool

	// hadMeta/prevMeta capture the key's metadata exactly as it stood
	// before this write, so an abort can restore it: metadata.json is
	// written eagerly (ahead of commit, to compute the next version
	// number), so besides discarding the pending version files abortLocked
	// rewrites prevMeta, or removes metadata.json when hadMeta is false.
	hadMeta  bool
	prevMeta *keyMeta
}

type fileTx struct {
	id          string
	journalPath string
	journal     *os.File
	writes      []*pendingWrite
	touchedAcc  map[string]int64 // userID -> delta
}

// NewFileStorage opens (creating if necessary) a file-backed store rooted at
// dir, replaying any committed-but-not-finalized transactions and discarding
// incomplete ones.
func NewFileStorage(dir string, log *logrus.Logger, sink EventSink) (*FileStorage, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	for _, sub := range []string{"namespaces", "accounts", "audit_logs", "transactions"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, err
		}
	}
	fs := &FileStorage{root: dir, log: log, sink: sink, nsLocks: make(map[string]*sync.Mutex)}
	if err := fs.recover(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStorage) emit(category, message string, fields map[string]interface{}) {
	if f.sink != nil {
		f.sink.Emit(category, message, fields)
	}
	if f.log != nil {
		f.log.WithField("category", category).Debug(message)
	}
}

func nsDir(root, ns string) string   { return filepath.Join(root, "namespaces", ns) }
func keysDir(root, ns string) string { return filepath.Join(nsDir(root, ns), "keys") }
func keyDir(root, ns, key string) string {
	return filepath.Join(keysDir(root, ns), url(key))
}
func versionFilePath(root, ns, key string, v int) string {
	return filepath.Join(keyDir(root, ns, key), fmt.Sprintf("v%d.data", v))
}
func keyMetaPath(root, ns, key string) string { return filepath.Join(keyDir(root, ns, key), "metadata.json") }
func nsMetaPath(root, ns string) string       { return filepath.Join(nsDir(root, ns), "namespace_metadata.json") }
func accountPath(root, userID string) string  { return filepath.Join(root, "accounts", url(userID)+".json") }
func auditLogPath(root string, t time.Time) string {
	return filepath.Join(root, "audit_logs", t.Format("20060102")+".log")
}
func txDirPath(root, txID string) string      { return filepath.Join(root, "transactions", txID) }
func txJournalPath(root, txID string) string  { return filepath.Join(txDirPath(root, txID), "journal") }

// url makes a path-safe fragment out of an arbitrary key/user id so nested
// identifiers (e.g. "treasury/balance") don't escape their directory.
func url(s string) string {
	return strings.ReplaceAll(s, "/", "__")
}

type namespaceMeta struct {
	QuotaBytes int64  `json:"quota_bytes"`
	UsedBytes  int64  `json:"used_bytes"`
	Parent     string `json:"parent,omitempty"`
	CreatedBy  string `json:"created_by,omitempty"`
}

type keyMeta struct {
	Versions []VersionInfo `json:"versions"`
}

func readJSON(path string, v interface{}) (bool, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSONAtomic(path string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// recover scans <root>/transactions for journals, finalizing (replaying)
// those that end with a commit marker and discarding incomplete ones.
func (f *FileStorage) recover() error {
	entries, err := os.ReadDir(filepath.Join(f.root, "transactions"))
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		txID := e.Name()
		jpath := txJournalPath(f.root, txID)
		records, committed, err := readJournal(jpath)
		if err != nil {
			f.log.WithField("tx", txID).Warnf("unreadable journal, discarding: %v", err)
			os.RemoveAll(txDirPath(f.root, txID))
			continue
		}
		if committed {
			for _, rec := range records {
				if rec.Op == "COMMIT" {
					continue
				}
				tmp := versionFilePath(f.root, rec.NS, rec.Key, rec.Version) + ".tmp"
				final := versionFilePath(f.root, rec.NS, rec.Key, rec.Version)
				if _, err := os.Stat(tmp); err == nil {
					os.Rename(tmp, final)
				}
			}
			f.log.WithField("tx", txID).Info("replayed committed transaction")
		} else {
			f.log.WithField("tx", txID).Info("discarding incomplete transaction")
		}
		os.RemoveAll(txDirPath(f.root, txID))
	}
	return nil
}

func readJournal(path string) ([]journalRecord, bool, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer file.Close()
	var records []journalRecord
	committed := false
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec journalRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// truncated last line from a crash mid-write; stop reading here.
			break
		}
		records = append(records, rec)
		if rec.Op == "COMMIT" {
			committed = true
		}
	}
	return records, committed, nil
}

// BeginTx starts an explicit transaction.
func (f *FileStorage) BeginTx() *VMError {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tx != nil {
		return errNestedTxNotSupported()
	}
	return f.beginLocked()
}

func (f *FileStorage) beginLocked() *VMError {
	id := uuid.New().String()
	if err := os.MkdirAll(txDirPath(f.root, id), 0o755); err != nil {
		return errIoError(err.Error())
	}
	jf, err := os.OpenFile(txJournalPath(f.root, id), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errIoError(err.Error())
	}
	f.tx = &fileTx{id: id, journalPath: txJournalPath(f.root, id), journal: jf, touchedAcc: make(map[string]int64)}
	return nil
}

func (f *FileStorage) appendJournal(rec journalRecord) *VMError {
	b, err := json.Marshal(rec)
	if err != nil {
		return errSerializationError("journal")
	}
	if _, err := f.tx.journal.Write(append(b, '\n')); err != nil {
		return errIoError(err.Error())
	}
	if err := f.tx.journal.Sync(); err != nil {
		return errIoError(err.Error())
	}
	return nil
}

// CommitTx renames every pending version file into place, appends the
// commit marker, then discards the transaction's journal directory.
func (f *FileStorage) CommitTx() *VMError {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commitLocked()
}

func (f *FileStorage) commitLocked() *VMError {
	if f.tx == nil {
		return errNoActiveTx()
	}
	tx := f.tx

	for userID, delta := range tx.touchedAcc {
		acc, _ := f.readAccountLocked(userID)
		if acc == nil {
			continue
		}
		if acc.UsedBytes+delta > acc.QuotaBytes {
			f.abortLocked()
			return errQuotaExceeded("storage", acc.UsedBytes+delta, acc.QuotaBytes)
		}
	}

	for _, w := range tx.writes {
		if w.delete {
			continue
		}
		if err := os.Rename(w.tmpPath, versionFilePath(f.root, w.ns, w.key, w.version)); err != nil {
			f.abortLocked()
			return errIoError(err.Error())
		}
	}
	checksum, _ := computeChecksum([]byte(tx.id))
	if verr := f.appendJournal(journalRecord{TxID: tx.id, Op: "COMMIT", Checksum: checksum}); verr != nil {
		f.abortLocked()
		return verr
	}
	for userID, delta := range tx.touchedAcc {
		acc, _ := f.readAccountLocked(userID)
		if acc == nil {
			continue
		}
		acc.UsedBytes += delta
		acc.History = append(acc.History, ResourceUsageEntry{Timestamp: time.Now().UTC(), Delta: delta, Operation: "commit"})
		writeJSONAtomic(accountPath(f.root, userID), acc)
	}
	tx.journal.Close()
	os.RemoveAll(txDirPath(f.root, tx.id))
	f.tx = nil
	f.emit(EventCategoryStorageTransaction, "commit", map[string]interface{}{"tx_id": tx.id})
	return nil
}

// abortLocked discards every pending write of the active transaction,
// including the key metadata that Set/Delete wrote eagerly (ahead of
// commit, to compute the next version number). Writes are unwound in
// reverse order so that two writes to the same key within one transaction
// restore through their own intermediate state rather than clobbering each
// other's revert.
func (f *FileStorage) abortLocked() {
	tx := f.tx
	if tx == nil {
		return
	}
	for i := len(tx.writes) - 1; i >= 0; i-- {
		w := tx.writes[i]
		if !w.delete {
			os.Remove(w.tmpPath)
		}
		metaPath := keyMetaPath(f.root, w.ns, w.key)
		if w.hadMeta {
			writeJSONAtomic(metaPath, w.prevMeta)
		} else {
			os.Remove(metaPath)
		}
	}
	tx.journal.Close()
	os.RemoveAll(txDirPath(f.root, tx.id))
	f.tx = nil
}

// RollbackTx discards every pending write without touching committed state.
func (f *FileStorage) RollbackTx() *VMError {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tx == nil {
		return errNoActiveTx()
	}
	txID := f.tx.id
	f.abortLocked()
	f.emit(EventCategoryStorageTransaction, "rollback", map[string]interface{}{"tx_id": txID})
	return nil
}

func (f *FileStorage) withImplicitTx(fn func() *VMError) *VMError {
	f.mu.Lock()
	startedHere := false
	if f.tx == nil {
		if verr := f.beginLocked(); verr != nil {
			f.mu.Unlock()
			return verr
		}
		startedHere = true
	}
	f.mu.Unlock()

	err := fn()

	if startedHere {
		f.mu.Lock()
		defer f.mu.Unlock()
		if err != nil {
			f.abortLocked()
			return err
		}
		return f.commitLocked()
	}
	return err
}

func (f *FileStorage) readNSMetaLocked(ns string) (*namespaceMeta, bool) {
	var meta namespaceMeta
	ok, err := readJSON(nsMetaPath(f.root, ns), &meta)
	if err != nil || !ok {
		return nil, false
	}
	return &meta, true
}

func (f *FileStorage) readAccountLocked(userID string) (*ResourceAccount, *VMError) {
	var acc ResourceAccount
	ok, err := readJSON(accountPath(f.root, userID), &acc)
	if err != nil {
		return nil, errIoError(err.Error())
	}
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

func (f *FileStorage) CreateNamespace(auth *AuthContext, ns string, quotaBytes int64, parent string) *VMError {
	if verr := validateNamespace(ns); verr != nil {
		return verr
	}
	if verr := authorize(auth, ns, "write"); verr != nil {
		return verr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.readNSMetaLocked(ns); ok {
		return nil
	}
	meta := &namespaceMeta{QuotaBytes: quotaBytes, Parent: parent, CreatedBy: callerOf(auth)}
	if err := os.MkdirAll(keysDir(f.root, ns), 0o755); err != nil {
		return errIoError(err.Error())
	}
	if err := writeJSONAtomic(nsMetaPath(f.root, ns), meta); err != nil {
		return errIoError(err.Error())
	}
	f.emit(EventCategoryStorageResource, "create_namespace", map[string]interface{}{"ns": ns, "user": callerOf(auth)})
	return nil
}

func (f *FileStorage) CreateAccount(auth *AuthContext, userID string, quotaBytes int64) *VMError {
	if verr := authorize(auth, DefaultNamespace, "write"); verr != nil {
		return verr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if acc, _ := f.readAccountLocked(userID); acc != nil {
		return nil
	}
	acc := &ResourceAccount{UserID: userID, QuotaBytes: quotaBytes}
	if err := writeJSONAtomic(accountPath(f.root, userID), acc); err != nil {
		return errIoError(err.Error())
	}
	f.emit(EventCategoryStorageResource, "create_account", map[string]interface{}{"user": userID})
	return nil
}

func (f *FileStorage) Account(userID string) *ResourceAccount {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, _ := f.readAccountLocked(userID)
	return acc
}

func (f *FileStorage) readKeyMetaLocked(ns, key string) (*keyMeta, bool) {
	var meta keyMeta
	ok, err := readJSON(keyMetaPath(f.root, ns, key), &meta)
	if err != nil || !ok {
		return nil, false
	}
	return &meta, true
}

func (f *FileStorage) Get(auth *AuthContext, ns, key string) ([]byte, *VMError) {
	if verr := authorize(auth, ns, "read"); verr != nil {
		return nil, verr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.readKeyMetaLocked(ns, key)
	if !ok || len(meta.Versions) == 0 {
		return nil, errStorageNotFound(ns, key)
	}
	last := meta.Versions[len(meta.Versions)-1]
	if last.Deleted {
		return nil, errStorageNotFound(ns, key)
	}
	data, err := os.ReadFile(versionFilePath(f.root, ns, key, last.Version))
	if err != nil {
		return nil, errIoError(err.Error())
	}
	f.emit(EventCategoryStorageAccess, "get", map[string]interface{}{"ns": ns, "key": key, "user": callerOf(auth)})
	return data, nil
}

func (f *FileStorage) Set(auth *AuthContext, ns, key string, value []byte) *VMError {
	if verr := authorize(auth, ns, "write"); verr != nil {
		return verr
	}
	nsLock := f.lockNamespace(ns)
	nsLock.Lock()
	defer nsLock.Unlock()
	return f.withImplicitTx(func() *VMError {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.readNSMetaLocked(ns); !ok {
			return errStorageNotFound(ns, key)
		}
		meta, hadMeta := f.readKeyMetaLocked(ns, key)
		var prevMeta *keyMeta
		if hadMeta {
			prevMeta = &keyMeta{Versions: append([]VersionInfo(nil), meta.Versions...)}
		} else {
			meta = &keyMeta{}
		}
		prevSize := 0
		if n := len(meta.Versions); n > 0 && !meta.Versions[n-1].Deleted {
			prevSize = statSize(versionFilePath(f.root, ns, key, meta.Versions[n-1].Version))
		}
		version := len(meta.Versions) + 1
		checksum, _ := computeChecksum(value)

		tmpPath := versionFilePath(f.root, ns, key, version) + ".tmp"
		if err := os.MkdirAll(keyDir(f.root, ns, key), 0o755); err != nil {
			return errIoError(err.Error())
		}
		tf, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return errIoError(err.Error())
		}
		if _, err := tf.Write(value); err != nil {
			tf.Close()
			return errIoError(err.Error())
		}
		if err := tf.Sync(); err != nil {
			tf.Close()
			return errIoError(err.Error())
		}
		tf.Close()

		meta.Versions = append(meta.Versions, VersionInfo{Version: version, Timestamp: time.Now().UTC(), Author: callerOf(auth), Checksum: checksum})
		if err := writeJSONAtomic(keyMetaPath(f.root, ns, key), meta); err != nil {
			return errIoError(err.Error())
		}

		if verr := f.appendJournal(journalRecord{TxID: f.tx.id, Op: "set", NS: ns, Key: key, Version: version, Size: len(value), Checksum: checksum}); verr != nil {
			return verr
		}
		f.tx.writes = append(f.tx.writes, &pendingWrite{ns: ns, key: key, version: version, data: value, tmpPath: tmpPath, hadMeta: hadMeta, prevMeta: prevMeta})
		f.tx.touchedAcc[callerOf(auth)] += int64(len(value) - prevSize)
		f.appendAuditLocked(callerOf(auth), ns, key, "set")
		f.emit(EventCategoryStorageAccess, "set", map[string]interface{}{"ns": ns, "key": key, "user": callerOf(auth), "version": version})
		return nil
	})
}

func statSize(path string) int {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return int(info.Size())
}

func (f *FileStorage) Delete(auth *AuthContext, ns, key string) *VMError {
	if verr := authorize(auth, ns, "delete"); verr != nil {
		return verr
	}
	nsLock := f.lockNamespace(ns)
	nsLock.Lock()
	defer nsLock.Unlock()
	return f.withImplicitTx(func() *VMError {
		f.mu.Lock()
		defer f.mu.Unlock()
		meta, ok := f.readKeyMetaLocked(ns, key)
		if !ok || len(meta.Versions) == 0 {
			return errStorageNotFound(ns, key)
		}
		last := meta.Versions[len(meta.Versions)-1]
		if last.Deleted {
			return errStorageNotFound(ns, key)
		}
		prevMeta := &keyMeta{Versions: append([]VersionInfo(nil), meta.Versions...)}
		prevSize := statSize(versionFilePath(f.root, ns, key, last.Version))
		version := len(meta.Versions) + 1
		meta.Versions = append(meta.Versions, VersionInfo{Version: version, Timestamp: time.Now().UTC(), Author: callerOf(auth), Deleted: true})
		if err := writeJSONAtomic(keyMetaPath(f.root, ns, key), meta); err != nil {
			return errIoError(err.Error())
		}
		if verr := f.appendJournal(journalRecord{TxID: f.tx.id, Op: "delete", NS: ns, Key: key, Version: version}); verr != nil {
			return verr
		}
		f.tx.writes = append(f.tx.writes, &pendingWrite{ns: ns, key: key, version: version, delete: true, hadMeta: true, prevMeta: prevMeta})
		f.tx.touchedAcc[callerOf(auth)] -= int64(prevSize)
		f.appendAuditLocked(callerOf(auth), ns, key, "delete")
		f.emit(EventCategoryStorageAccess, "delete", map[string]interface{}{"ns": ns, "key": key, "user": callerOf(auth)})
		return nil
	})
}

func (f *FileStorage) Contains(auth *AuthContext, ns, key string) bool {
	if verr := authorize(auth, ns, "read"); verr != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.readKeyMetaLocked(ns, key)
	if !ok || len(meta.Versions) == 0 {
		return false
	}
	return !meta.Versions[len(meta.Versions)-1].Deleted
}

func (f *FileStorage) ListKeys(auth *AuthContext, ns, prefix string) ([]string, *VMError) {
	if verr := authorize(auth, ns, "list"); verr != nil {
		return nil, verr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := os.ReadDir(keysDir(f.root, ns))
	if os.IsNotExist(err) {
		return nil, errStorageNotFound(ns, "")
	}
	if err != nil {
		return nil, errIoError(err.Error())
	}
	var out []string
	for _, e := range entries {
		key := strings.ReplaceAll(e.Name(), "__", "/")
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		meta, ok := f.readKeyMetaLocked(ns, key)
		if ok && len(meta.Versions) > 0 && !meta.Versions[len(meta.Versions)-1].Deleted {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *FileStorage) GetVersion(auth *AuthContext, ns, key string, version int) ([]byte, *VMError) {
	if verr := authorize(auth, ns, "read"); verr != nil {
		return nil, verr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.readKeyMetaLocked(ns, key)
	if !ok || version < 1 || version > len(meta.Versions) {
		return nil, errStorageNotFound(ns, key)
	}
	data, err := os.ReadFile(versionFilePath(f.root, ns, key, version))
	if err != nil {
		return nil, errIoError(err.Error())
	}
	return data, nil
}

func (f *FileStorage) ListVersions(auth *AuthContext, ns, key string) ([]VersionInfo, *VMError) {
	if verr := authorize(auth, ns, "read"); verr != nil {
		return nil, verr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.readKeyMetaLocked(ns, key)
	if !ok {
		return nil, errStorageNotFound(ns, key)
	}
	return meta.Versions, nil
}

func (f *FileStorage) appendAuditLocked(userID, ns, key, action string) {
	path := auditLogPath(f.root, time.Now().UTC())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	line := fmt.Sprintf("%s user=%s ns=%s key=%s action=%s\n", time.Now().UTC().Format(time.RFC3339Nano), userID, ns, key, action)
	file.WriteString(line)
}

// lockNamespace returns (and lazily creates) the in-process mutex guarding
// concurrent access to ns. This is the backend's only locking: no OS file
// lock is taken, so writers in separate processes sharing one root are not
// serialized.
func (f *FileStorage) lockNamespace(ns string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.nsLocks[ns]
	if !ok {
		l = &sync.Mutex{}
		f.nsLocks[ns] = l
	}
	return l
}
