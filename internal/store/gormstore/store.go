package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"proxycheck/internal/store"
	"proxycheck/pkg/types"
)

// Store is the gorm/sqlite-backed store.Store implementation. writeMu
// serializes every mutation: sqlite already rejects concurrent writers, but
// the mutex also protects the read-then-write sequences (e.g. canonical
// uniqueness checks) that would otherwise race under it.
type Store struct {
	db      *gorm.DB
	writeMu sync.Mutex
}

// Open opens (creating if necessary) a SQLite database at dsn and migrates
// the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open %s: %w", dsn, err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("gormstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func protoSet(p types.ProxyProtocol) []types.ProxyProtocol {
	if p == types.ProtoUnspecified {
		return types.ExpandableProtocols
	}
	return []types.ProxyProtocol{p}
}

func (s *Store) AddProxy(ctx context.Context, p types.Proxy) ([]types.Proxy, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var created []types.Proxy
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, proto := range protoSet(p.Protocol) {
			m := proxyModel{
				Host:         p.Host,
				Port:         p.Port,
				Protocol:     string(proto),
				RecheckEvery: p.RecheckEvery,
			}
			var count int64
			if err := tx.Model(&proxyModel{}).
				Where("host = ? AND port = ? AND protocol = ?", m.Host, m.Port, m.Protocol).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return store.ErrConflict
			}
			if err := tx.Create(&m).Error; err != nil {
				return err
			}
			created = append(created, toProxy(m))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) RemoveProxy(ctx context.Context, id uint) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&proxyModel{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrNotExist
		}
		if err := tx.Where("proxy_id = ?", id).Delete(&proxyCheckModel{}).Error; err != nil {
			return err
		}
		return nil
	})
}

func toProxy(m proxyModel) types.Proxy {
	return types.Proxy{
		ID:           m.ID,
		Host:         m.Host,
		Port:         m.Port,
		Protocol:     types.ProxyProtocol(m.Protocol),
		RecheckEvery: m.RecheckEvery,
		CreatedAt:    m.CreatedAt,
	}
}

func (s *Store) ListProxies(ctx context.Context, filter types.ListFilter) ([]types.ProxyRow, error) {
	var proxies []proxyModel
	if err := s.db.WithContext(ctx).Find(&proxies).Error; err != nil {
		return nil, err
	}

	alive, err := s.AliveProxies(ctx)
	if err != nil {
		return nil, err
	}
	banned, err := s.BannedAt(ctx)
	if err != nil {
		return nil, err
	}
	bannedByProxy := map[uint][]string{}
	for _, b := range banned {
		bannedByProxy[b.ProxyID] = append(bannedByProxy[b.ProxyID], b.Netloc)
	}

	rows := make([]types.ProxyRow, 0, len(proxies))
	for _, m := range proxies {
		isAlive := alive[m.ID]
		if filter == types.ListAliveOnly && !isAlive {
			continue
		}

		var checkIDs []uint
		var pcs []proxyCheckModel
		if err := s.db.WithContext(ctx).Where("proxy_id = ?", m.ID).Find(&pcs).Error; err != nil {
			return nil, err
		}
		for _, pc := range pcs {
			checkIDs = append(checkIDs, pc.CheckID)
		}

		var meanLatency float64
		var results []checkResultModel
		s.db.WithContext(ctx).Where("proxy_id = ?", m.ID).Order("done_at desc").Limit(len(checkIDs)).Find(&results)
		if len(results) > 0 {
			var sum float64
			for _, r := range results {
				sum += r.Time
			}
			meanLatency = sum / float64(len(results))
		}

		rows = append(rows, types.ProxyRow{
			Proxy:       toProxy(m),
			Alive:       isAlive,
			CheckIDs:    checkIDs,
			BannedOn:    bannedByProxy[m.ID],
			MeanLatency: meanLatency,
		})
	}
	return rows, nil
}

func canonicalKey(c types.CheckDefinition) string {
	b, _ := json.Marshal(struct {
		URL     string           `json:"url"`
		Status  []int            `json:"status"`
		XPath   []types.Assertion `json:"xpath"`
		Timeout int              `json:"timeout"`
	}{c.URL, c.ExpectedStatus, c.XPathAsserts, c.Timeout})
	return string(b)
}

func (s *Store) AddCheck(ctx context.Context, c types.CheckDefinition) (types.CheckDefinition, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if len(c.ExpectedStatus) == 0 {
		c.ExpectedStatus = types.DefaultExpectedStatus
	}
	if c.Timeout == 0 {
		c.Timeout = types.DefaultTimeout
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return types.CheckDefinition{}, fmt.Errorf("gormstore: invalid check url %q: %w", c.URL, err)
	}
	c.Netloc = u.Host

	statusJSON, _ := json.Marshal(c.ExpectedStatus)
	xpathJSON, _ := json.Marshal(c.XPathAsserts)
	canon := canonicalKey(c)

	m := checkDefModel{
		Name:           nullableName(c.Name),
		URL:            c.URL,
		ExpectedStatus: string(statusJSON),
		XPathAsserts:   string(xpathJSON),
		Timeout:        c.Timeout,
		Netloc:         c.Netloc,
		Canonical:      canon,
	}

	var count int64
	cond := s.db.Model(&checkDefModel{}).Where("canonical = ?", canon)
	if c.Name != "" {
		cond = s.db.Model(&checkDefModel{}).Where("canonical = ? OR name = ?", canon, c.Name)
	}
	if err := cond.Count(&count).Error; err != nil {
		return types.CheckDefinition{}, err
	}
	if count > 0 {
		return types.CheckDefinition{}, store.ErrConflict
	}

	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return types.CheckDefinition{}, err
	}
	c.ID = m.ID
	return c, nil
}

func (s *Store) RemoveCheck(ctx context.Context, id uint) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&checkDefModel{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrNotExist
		}
		return tx.Where("check_id = ?", id).Delete(&proxyCheckModel{}).Error
	})
}

// nullableName returns nil for an absent name so the unique index on
// checkDefModel.Name never sees two equal '' values collide.
func nullableName(name string) *string {
	if name == "" {
		return nil
	}
	return &name
}

func toCheckDef(m checkDefModel) types.CheckDefinition {
	var status []int
	var asserts []types.Assertion
	json.Unmarshal([]byte(m.ExpectedStatus), &status)
	json.Unmarshal([]byte(m.XPathAsserts), &asserts)
	var name string
	if m.Name != nil {
		name = *m.Name
	}
	return types.CheckDefinition{
		ID:             m.ID,
		Name:           name,
		URL:            m.URL,
		ExpectedStatus: status,
		XPathAsserts:   asserts,
		Timeout:        m.Timeout,
		Netloc:         m.Netloc,
	}
}

func (s *Store) GetCheck(ctx context.Context, id uint, name string) (types.CheckDefinition, error) {
	var m checkDefModel
	q := s.db.WithContext(ctx)
	var err error
	if id != 0 {
		err = q.First(&m, id).Error
	} else {
		err = q.Where("name = ?", name).First(&m).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.CheckDefinition{}, store.ErrNotExist
	}
	if err != nil {
		return types.CheckDefinition{}, err
	}
	return toCheckDef(m), nil
}

func (s *Store) ListChecks(ctx context.Context) ([]types.CheckDefinition, error) {
	var ms []checkDefModel
	if err := s.db.WithContext(ctx).Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]types.CheckDefinition, len(ms))
	for i, m := range ms {
		out[i] = toCheckDef(m)
	}
	return out, nil
}

func (s *Store) Associate(ctx context.Context, proxyID, checkID uint) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var pCount, cCount int64
	s.db.Model(&proxyModel{}).Where("id = ?", proxyID).Count(&pCount)
	s.db.Model(&checkDefModel{}).Where("id = ?", checkID).Count(&cCount)
	if pCount == 0 || cCount == 0 {
		return store.ErrNotExist
	}

	var count int64
	s.db.Model(&proxyCheckModel{}).Where("proxy_id = ? AND check_id = ?", proxyID, checkID).Count(&count)
	if count > 0 {
		return store.ErrConflict
	}

	return s.db.WithContext(ctx).Create(&proxyCheckModel{ProxyID: proxyID, CheckID: checkID}).Error
}

func (s *Store) Disassociate(ctx context.Context, proxyID, checkID uint) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res := s.db.WithContext(ctx).Where("proxy_id = ? AND check_id = ?", proxyID, checkID).Delete(&proxyCheckModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotExist
	}
	return nil
}

func (s *Store) ChecksFor(ctx context.Context, proxyID uint) ([]types.CheckDefinition, error) {
	var pcs []proxyCheckModel
	if err := s.db.WithContext(ctx).Where("proxy_id = ?", proxyID).Find(&pcs).Error; err != nil {
		return nil, err
	}
	out := make([]types.CheckDefinition, 0, len(pcs))
	for _, pc := range pcs {
		var m checkDefModel
		if err := s.db.WithContext(ctx).First(&m, pc.CheckID).Error; err != nil {
			continue
		}
		out = append(out, toCheckDef(m))
	}
	return out, nil
}

func (s *Store) AllAssociations(ctx context.Context) ([]types.ProxyCheck, error) {
	var pcs []proxyCheckModel
	if err := s.db.WithContext(ctx).Find(&pcs).Error; err != nil {
		return nil, err
	}
	out := make([]types.ProxyCheck, len(pcs))
	for i, pc := range pcs {
		out[i] = types.ProxyCheck{ProxyID: pc.ProxyID, CheckID: pc.CheckID}
	}
	return out, nil
}

func (s *Store) RecordResult(ctx context.Context, r types.CheckResult) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	m := checkResultModel{
		ProxyID:  r.ProxyID,
		CheckID:  r.CheckID,
		IsPassed: r.IsPassed,
		IsBanned: r.IsBanned,
		Status:   r.Status,
		Time:     r.Time,
		Error:    r.Error,
		DoneAt:   r.DoneAt,
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// latestResults returns the most recent checkResultModel for every
// (proxy_id, check_id) pair that has at least one result.
func (s *Store) latestResults(ctx context.Context) (map[[2]uint]checkResultModel, error) {
	var all []checkResultModel
	if err := s.db.WithContext(ctx).Order("done_at asc").Find(&all).Error; err != nil {
		return nil, err
	}
	latest := map[[2]uint]checkResultModel{}
	for _, r := range all {
		key := [2]uint{r.ProxyID, r.CheckID}
		if prev, ok := latest[key]; !ok || r.DoneAt.After(prev.DoneAt) || r.ID > prev.ID {
			latest[key] = r
		}
	}
	return latest, nil
}

func (s *Store) AliveProxies(ctx context.Context) (map[uint]bool, error) {
	pcs, err := s.AllAssociations(ctx)
	if err != nil {
		return nil, err
	}
	checksByProxy := map[uint][]uint{}
	for _, pc := range pcs {
		checksByProxy[pc.ProxyID] = append(checksByProxy[pc.ProxyID], pc.CheckID)
	}

	latest, err := s.latestResults(ctx)
	if err != nil {
		return nil, err
	}

	alive := map[uint]bool{}
	for proxyID, checkIDs := range checksByProxy {
		if len(checkIDs) == 0 {
			continue
		}
		ok := true
		for _, checkID := range checkIDs {
			r, have := latest[[2]uint{proxyID, checkID}]
			if !have || !r.IsPassed {
				ok = false
				break
			}
		}
		alive[proxyID] = ok
	}
	return alive, nil
}

func (s *Store) BannedAt(ctx context.Context) ([]store.BannedEntry, error) {
	latest, err := s.latestResults(ctx)
	if err != nil {
		return nil, err
	}

	var entries []store.BannedEntry
	for key, r := range latest {
		if !r.IsBanned {
			continue
		}
		var check checkDefModel
		if err := s.db.WithContext(ctx).First(&check, key[1]).Error; err != nil {
			continue
		}
		entries = append(entries, store.BannedEntry{
			ProxyID: key[0],
			CheckID: key[1],
			Netloc:  check.Netloc,
			At:      r.DoneAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].At.After(entries[j].At) })
	return entries, nil
}
