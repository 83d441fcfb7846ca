package main

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/fieldsync/internal/data"
	"github.com/PaulBabatuyi/fieldsync/internal/normalize"
	"github.com/PaulBabatuyi/fieldsync/internal/realtime"
)

// The fakes below keep documents in memory and evaluate the bson filters the
// handlers build, covering the operators the handlers use.

// toDoc converts v to the document the driver would store.
func toDoc(v any) bson.M {
	raw, err := bson.Marshal(v)
	if err != nil {
		panic(err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		panic(err)
	}
	return m
}

// patch returns a copy of item with set applied.
func patch[T any](item *T, set bson.M) *T {
	d := toDoc(item)
	for k, v := range set {
		d[k] = v
	}
	raw, err := bson.Marshal(d)
	if err != nil {
		panic(err)
	}
	var out T
	if err := bson.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return &out
}

func matches(item any, filter bson.M) bool {
	return matchDoc(toDoc(item), filter)
}

func matchDoc(d bson.M, filter bson.M) bool {
	for k, cond := range filter {
		switch k {
		case "$and":
			for _, sub := range subFilters(cond) {
				if !matchDoc(d, sub) {
					return false
				}
			}
		case "$or":
			if !slices.ContainsFunc(subFilters(cond), func(sub bson.M) bool { return matchDoc(d, sub) }) {
				return false
			}
		default:
			val, present := d[k]
			if !matchField(val, present, cond) {
				return false
			}
		}
	}
	return true
}

func subFilters(cond any) []bson.M {
	var out []bson.M
	for _, c := range cond.(bson.A) {
		out = append(out, c.(bson.M))
	}
	return out
}

func matchField(val any, present bool, cond any) bool {
	ops, ok := cond.(bson.M)
	if !ok || len(ops) == 0 || !strings.HasPrefix(firstKey(ops), "$") {
		return equalField(val, cond)
	}
	for op, arg := range ops {
		switch op {
		case "$in":
			list, _ := norm(arg).([]any)
			if !slices.ContainsFunc(list, func(a any) bool { return equalField(val, a) }) {
				return false
			}
		case "$ne":
			if equalField(val, arg) {
				return false
			}
		case "$exists":
			if present != arg.(bool) {
				return false
			}
		case "$gte", "$gt", "$lt", "$lte":
			c, ok := compare(val, arg)
			if !ok {
				return false
			}
			if (op == "$gte" && c < 0) || (op == "$gt" && c <= 0) || (op == "$lt" && c >= 0) || (op == "$lte" && c > 0) {
				return false
			}
		default:
			panic("fake store: unsupported operator " + op)
		}
	}
	return true
}

func firstKey(m bson.M) string {
	for k := range m {
		return k
	}
	return ""
}

// equalField follows the driver: an array field matches when any element
// equals want.
func equalField(val, want any) bool {
	nv, nw := norm(val), norm(want)
	if arr, ok := nv.([]any); ok {
		if _, wantArr := nw.([]any); wantArr {
			return reflect.DeepEqual(arr, nw)
		}
		return slices.ContainsFunc(arr, func(e any) bool { return reflect.DeepEqual(e, nw) })
	}
	return reflect.DeepEqual(nv, nw)
}

func compare(a, b any) (int, bool) {
	switch x := norm(a).(type) {
	case float64:
		y, ok := norm(b).(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case string:
		y, ok := norm(b).(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	}
	return 0, false
}

// norm maps Go and bson values onto comparable forms: numbers and times to
// float64, string kinds to string, slices to []any.
func norm(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bson.ObjectID:
		return x
	case bson.DateTime:
		return float64(x.Time().UnixMilli())
	case time.Time:
		return float64(x.UnixMilli())
	case bson.M, bson.D:
		return x
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = norm(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

func pick[T any](items []*T, filter bson.M) []*T {
	var out []*T
	for _, it := range items {
		if filter == nil || matches(it, filter) {
			cp := *it
			out = append(out, &cp)
		}
	}
	return out
}

func findIndex[T any](items []*T, filter bson.M) int {
	for i, it := range items {
		if matches(it, filter) {
			return i
		}
	}
	return -1
}

func derefAll[T any](items []*T) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		out = append(out, *it)
	}
	return out
}

func byHex(id string) bson.M {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return bson.M{"_id": "invalid"}
	}
	return bson.M{"_id": oid}
}

// users

type fakeUsers struct {
	rows []*data.User
}

func (f *fakeUsers) Create(_ context.Context, u *data.User) (*data.User, error) {
	u.Email = normalize.Email(u.Email)
	if findIndex(f.rows, bson.M{"email": u.Email}) >= 0 {
		return nil, data.ErrDuplicate
	}
	if u.AssignedSurveys == nil {
		u.AssignedSurveys = []string{}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.ID = bson.NewObjectID()
	cp := *u
	f.rows = append(f.rows, &cp)
	return u, nil
}

func (f *fakeUsers) one(filter bson.M) (*data.User, error) {
	found := pick(f.rows, filter)
	if len(found) == 0 {
		return nil, data.ErrNotFound
	}
	return found[0], nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*data.User, error) {
	return f.one(bson.M{"email": normalize.Email(email)})
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*data.User, error) {
	return f.one(byHex(id))
}

func (f *fakeUsers) List(_ context.Context, filter bson.M) ([]data.User, error) {
	return derefAll(pick(f.rows, filter)), nil
}

func (f *fakeUsers) IDs(_ context.Context, filter bson.M) ([]string, error) {
	ids := []string{}
	for _, u := range pick(f.rows, filter) {
		ids = append(ids, u.ID.Hex())
	}
	return ids, nil
}

func (f *fakeUsers) SubordinateIDs(ctx context.Context, supervisorID string) ([]string, error) {
	return f.IDs(ctx, bson.M{"supervisor_id": supervisorID})
}

func (f *fakeUsers) Count(_ context.Context, filter bson.M) (int64, error) {
	return int64(len(pick(f.rows, filter))), nil
}

func (f *fakeUsers) Update(_ context.Context, id string, set bson.M) (*data.User, error) {
	i := findIndex(f.rows, byHex(id))
	if i < 0 {
		return nil, data.ErrNotFound
	}
	if email, ok := set["email"].(string); ok {
		set["email"] = normalize.Email(email)
		if j := findIndex(f.rows, bson.M{"email": set["email"]}); j >= 0 && j != i {
			return nil, data.ErrDuplicate
		}
	}
	set["updated_at"] = time.Now().UTC()
	f.rows[i] = patch(f.rows[i], set)
	cp := *f.rows[i]
	return &cp, nil
}

func (f *fakeUsers) Delete(_ context.Context, id string) error {
	i := findIndex(f.rows, byHex(id))
	if i < 0 {
		return data.ErrNotFound
	}
	f.rows = slices.Delete(f.rows, i, i+1)
	return nil
}

func (f *fakeUsers) set(id string, set bson.M) error {
	i := findIndex(f.rows, byHex(id))
	if i < 0 {
		return data.ErrNotFound
	}
	f.rows[i] = patch(f.rows[i], set)
	return nil
}

func (f *fakeUsers) RecordLogin(_ context.Context, id, sessionID string, at time.Time, device *data.DeviceInfo) error {
	set := bson.M{"current_session_id": sessionID, "last_login_at": at}
	if device != nil {
		set["last_device_info"] = device
	}
	return f.set(id, set)
}

func (f *fakeUsers) SyncDevice(_ context.Context, id string, device data.DeviceInfo, at time.Time) error {
	return f.set(id, bson.M{"last_device_info": device, "last_active_at": at})
}

func (f *fakeUsers) ClearSession(_ context.Context, id, sessionID string) error {
	i := findIndex(f.rows, byHex(id))
	if i >= 0 && f.rows[i].CurrentSessionID == sessionID {
		f.rows[i].CurrentSessionID = ""
	}
	return nil
}

func (f *fakeUsers) Summaries(_ context.Context, ids []string) (map[string]data.UserSummary, error) {
	out := map[string]data.UserSummary{}
	for _, u := range f.rows {
		if slices.Contains(ids, u.ID.Hex()) {
			out[u.ID.Hex()] = u.Summary()
		}
	}
	return out, nil
}

// sessions

type fakeSessions struct {
	rows map[string]*data.Session
}

func (f *fakeSessions) Create(_ context.Context, s *data.Session) error {
	cp := *s
	f.rows[s.ID] = &cp
	return nil
}

func (f *fakeSessions) Get(_ context.Context, id string) (*data.Session, error) {
	s, ok := f.rows[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) RevokeOthers(_ context.Context, userID, keepID, reason string, at time.Time) (int64, error) {
	var n int64
	for id, s := range f.rows {
		if s.UserID == userID && id != keepID && s.RevokedAt == nil {
			s.RevokedAt = &at
			s.RevokeReason = reason
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) Revoke(_ context.Context, id, reason string, at time.Time) error {
	if s, ok := f.rows[id]; ok && s.RevokedAt == nil {
		s.RevokedAt = &at
		s.RevokeReason = reason
	}
	return nil
}

// surveys

type fakeSurveys struct {
	rows []*data.Survey
	err  error
}

func (f *fakeSurveys) Create(_ context.Context, s *data.Survey) (*data.Survey, error) {
	if s.SupervisorIDs == nil {
		s.SupervisorIDs = []string{}
	}
	if s.EnumeratorIDs == nil {
		s.EnumeratorIDs = []string{}
	}
	s.ID = bson.NewObjectID()
	cp := *s
	f.rows = append(f.rows, &cp)
	return s, nil
}

func (f *fakeSurveys) FindOne(_ context.Context, filter bson.M) (*data.Survey, error) {
	found := pick(f.rows, filter)
	if len(found) == 0 {
		return nil, data.ErrNotFound
	}
	return found[0], nil
}

func (f *fakeSurveys) List(_ context.Context, filter bson.M) ([]data.Survey, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := derefAll(pick(f.rows, filter))
	slices.Reverse(out)
	return out, nil
}

func (f *fakeSurveys) Count(_ context.Context, filter bson.M) (int64, error) {
	return int64(len(pick(f.rows, filter))), nil
}

func (f *fakeSurveys) Update(_ context.Context, filter, set bson.M) (*data.Survey, error) {
	i := findIndex(f.rows, filter)
	if i < 0 {
		return nil, data.ErrNotFound
	}
	set["updated_at"] = time.Now().UTC()
	f.rows[i] = patch(f.rows[i], set)
	cp := *f.rows[i]
	return &cp, nil
}

func (f *fakeSurveys) AddMembers(_ context.Context, id string, supervisorIDs, enumeratorIDs []string) error {
	i := findIndex(f.rows, byHex(id))
	if i < 0 {
		return data.ErrNotFound
	}
	s := f.rows[i]
	for _, sid := range supervisorIDs {
		if !slices.Contains(s.SupervisorIDs, sid) {
			s.SupervisorIDs = append(s.SupervisorIDs, sid)
		}
	}
	for _, eid := range enumeratorIDs {
		if !slices.Contains(s.EnumeratorIDs, eid) {
			s.EnumeratorIDs = append(s.EnumeratorIDs, eid)
		}
	}
	return nil
}

// respondents

type fakeRespondents struct {
	mu   sync.Mutex
	rows []*data.Respondent
	err  error
}

func (f *fakeRespondents) Create(_ context.Context, r *data.Respondent) (*data.Respondent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = bson.NewObjectID()
	cp := *r
	f.rows = append(f.rows, &cp)
	return r, nil
}

func (f *fakeRespondents) FindOne(_ context.Context, filter bson.M) (*data.Respondent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	found := pick(f.rows, filter)
	if len(found) == 0 {
		return nil, data.ErrNotFound
	}
	cp := *found[0]
	return &cp, nil
}

func (f *fakeRespondents) List(_ context.Context, filter bson.M, limit int64) ([]data.Respondent, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := derefAll(pick(f.rows, filter))
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRespondents) Update(_ context.Context, filter, set bson.M) (*data.Respondent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := findIndex(f.rows, filter)
	if i < 0 {
		return nil, data.ErrNotFound
	}
	if _, ok := set["updated_at"]; !ok {
		set["updated_at"] = time.Now().UTC()
	}
	f.rows[i] = patch(f.rows[i], set)
	cp := *f.rows[i]
	return &cp, nil
}

func (f *fakeRespondents) CountByStatus(_ context.Context, filter bson.M) (data.StatusCounts, error) {
	if f.err != nil {
		return data.StatusCounts{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var c data.StatusCounts
	for _, r := range pick(f.rows, filter) {
		c.Total++
		switch r.Status {
		case data.StatusPending:
			c.Pending++
		case data.StatusInProgress:
			c.InProgress++
		case data.StatusCompleted:
			c.Completed++
		}
	}
	return c, nil
}

// locations

type fakeLocations struct {
	rows []*data.LocationPing
	err  error
}

func (f *fakeLocations) Insert(_ context.Context, p *data.LocationPing) (*data.LocationPing, error) {
	p.ID = bson.NewObjectID()
	cp := *p
	f.rows = append(f.rows, &cp)
	return p, nil
}

func (f *fakeLocations) InsertMany(ctx context.Context, pings []data.LocationPing) (int, error) {
	for i := range pings {
		if _, err := f.Insert(ctx, &pings[i]); err != nil {
			return i, err
		}
	}
	return len(pings), nil
}

func (f *fakeLocations) newestFirst(filter bson.M) []data.LocationPing {
	out := derefAll(pick(f.rows, filter))
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func (f *fakeLocations) List(_ context.Context, filter bson.M, limit int64) ([]data.LocationPing, error) {
	out := f.newestFirst(filter)
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeLocations) Latest(_ context.Context, filter bson.M) ([]data.LocationPing, error) {
	if f.err != nil {
		return nil, f.err
	}
	seen := map[string]bool{}
	out := []data.LocationPing{}
	for _, p := range f.newestFirst(filter) {
		if !seen[p.UserID] {
			seen[p.UserID] = true
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeLocations) ActiveUsers(_ context.Context, filter bson.M, since time.Time) (int64, error) {
	seen := map[string]bool{}
	for _, p := range pick(f.rows, filter) {
		if !p.Timestamp.Before(since) {
			seen[p.UserID] = true
		}
	}
	return int64(len(seen)), nil
}

// messages

type fakeMessages struct {
	rows []*data.Message
}

func live(id string) bson.M {
	f := byHex(id)
	f["is_deleted"] = bson.M{"$ne": true}
	return f
}

func (f *fakeMessages) Create(_ context.Context, m *data.Message) (*data.Message, error) {
	if m.ReadBy == nil {
		m.ReadBy = []string{}
	}
	m.ID = bson.NewObjectID()
	cp := *m
	f.rows = append(f.rows, &cp)
	return m, nil
}

func (f *fakeMessages) Get(_ context.Context, id string) (*data.Message, error) {
	found := pick(f.rows, live(id))
	if len(found) == 0 {
		return nil, data.ErrNotFound
	}
	return found[0], nil
}

func (f *fakeMessages) List(_ context.Context, filter bson.M, page data.Page) ([]data.Message, int64, error) {
	out := derefAll(pick(f.rows, filter))
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	total := int64(len(out))
	if page.Offset >= total {
		return []data.Message{}, total, nil
	}
	out = out[page.Offset:]
	if page.Limit > 0 && int64(len(out)) > page.Limit {
		out = out[:page.Limit]
	}
	return out, total, nil
}

func (f *fakeMessages) Latest(ctx context.Context, filter bson.M) (*data.Message, error) {
	out, _, _ := f.List(ctx, filter, data.Page{Limit: 1})
	if len(out) == 0 {
		return nil, data.ErrNotFound
	}
	return &out[0], nil
}

func (f *fakeMessages) Count(_ context.Context, filter bson.M) (int64, error) {
	return int64(len(pick(f.rows, filter))), nil
}

func (f *fakeMessages) Update(_ context.Context, id string, set bson.M) (*data.Message, error) {
	i := findIndex(f.rows, live(id))
	if i < 0 {
		return nil, data.ErrNotFound
	}
	f.rows[i] = patch(f.rows[i], set)
	cp := *f.rows[i]
	return &cp, nil
}

func (f *fakeMessages) Edit(ctx context.Context, id, content string, at time.Time) (*data.Message, error) {
	i := findIndex(f.rows, live(id))
	if i < 0 {
		return nil, data.ErrNotFound
	}
	set := bson.M{"content": content, "is_edited": true, "edited_at": at}
	if f.rows[i].OriginalContent == "" {
		set["original_content"] = f.rows[i].Content
	}
	return f.Update(ctx, id, set)
}

func (f *fakeMessages) SoftDelete(ctx context.Context, id string, at time.Time) (*data.Message, error) {
	return f.Update(ctx, id, bson.M{"is_deleted": true, "deleted_at": at})
}

func (f *fakeMessages) MarkRead(_ context.Context, id, userID string) (*data.Message, error) {
	i := findIndex(f.rows, live(id))
	if i < 0 {
		return nil, data.ErrNotFound
	}
	if !slices.Contains(f.rows[i].ReadBy, userID) {
		f.rows[i].ReadBy = append(f.rows[i].ReadBy, userID)
	}
	cp := *f.rows[i]
	return &cp, nil
}

func (f *fakeMessages) CountByType(_ context.Context) (map[data.MessageType]int64, error) {
	out := map[data.MessageType]int64{}
	for _, m := range pick(f.rows, data.NotDeleted()) {
		out[m.MessageType]++
	}
	return out, nil
}

func (f *fakeMessages) DailyCounts(_ context.Context, since time.Time) ([]data.DailyCount, error) {
	counts := map[string]int64{}
	for _, m := range pick(f.rows, data.NotDeleted()) {
		if !m.Timestamp.Before(since) {
			counts[m.Timestamp.UTC().Format("2006-01-02")]++
		}
	}
	out := []data.DailyCount{}
	for day, n := range counts {
		out = append(out, data.DailyCount{Date: day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// conversations

type fakeConversations struct {
	rows []*data.Conversation
}

func (f *fakeConversations) Touch(_ context.Context, senderID, receiverID, snapshot string, at time.Time) (*data.Conversation, error) {
	key := data.PairKey(senderID, receiverID)
	i := slices.IndexFunc(f.rows, func(c *data.Conversation) bool { return c.PairKey == key })
	if i < 0 {
		participants := []string{senderID, receiverID}
		sort.Strings(participants)
		f.rows = append(f.rows, &data.Conversation{
			ID:           bson.NewObjectID(),
			PairKey:      key,
			Participants: participants,
			CreatedAt:    at,
			UnreadCount:  map[string]int64{},
		})
		i = len(f.rows) - 1
	}
	c := f.rows[i]
	c.UpdatedAt = at
	c.LastMessage = snapshot
	c.UnreadCount[receiverID]++
	cp := *c
	return &cp, nil
}

func (f *fakeConversations) ResetUnread(_ context.Context, conversationID, userID string) error {
	for _, c := range f.rows {
		if c.ID.Hex() == conversationID {
			c.UnreadCount[userID] = 0
			return nil
		}
	}
	return data.ErrNotFound
}

func (f *fakeConversations) ForUser(_ context.Context, userID string) ([]data.Conversation, error) {
	out := []data.Conversation{}
	for _, c := range f.rows {
		if slices.Contains(c.Participants, userID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

// faqs

type fakeFAQs struct {
	rows []*data.FAQItem
}

func (f *fakeFAQs) Create(_ context.Context, item *data.FAQItem) (*data.FAQItem, error) {
	if item.Category == "" {
		item.Category = data.DefaultFAQCategory
	}
	item.ID = bson.NewObjectID()
	cp := *item
	f.rows = append(f.rows, &cp)
	return item, nil
}

func (f *fakeFAQs) List(_ context.Context) ([]data.FAQItem, error) {
	return derefAll(f.rows), nil
}

// notifier and assistant

type push struct {
	targets []string
	all     bool
	event   realtime.Event
}

type endedSession struct {
	userID, keep, reason string
}

type recordingNotifier struct {
	mu     sync.Mutex
	pushes []push
	ended  []endedSession
}

func (n *recordingNotifier) record(p push) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pushes = append(n.pushes, p)
}

func (n *recordingNotifier) Unicast(_ context.Context, userID string, ev realtime.Event) {
	n.record(push{targets: []string{userID}, event: ev})
}

func (n *recordingNotifier) Multicast(_ context.Context, userIDs []string, ev realtime.Event) {
	n.record(push{targets: slices.Clone(userIDs), event: ev})
}

func (n *recordingNotifier) Broadcast(_ context.Context, ev realtime.Event) {
	n.record(push{all: true, event: ev})
}

func (n *recordingNotifier) EndSessions(_ context.Context, userID, keepSessionID, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended = append(n.ended, endedSession{userID: userID, keep: keepSessionID, reason: reason})
}

func (n *recordingNotifier) ofType(t string) []push {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []push
	for _, p := range n.pushes {
		if p.event.Type == t {
			out = append(out, p)
		}
	}
	return out
}

type fakeAnswerer struct {
	answer string
	err    error
	prompt string
}

func (a *fakeAnswerer) Answer(_ context.Context, prompt string) (string, error) {
	a.prompt = prompt
	if a.err != nil {
		return "", a.err
	}
	if a.answer == "" {
		return "", fmt.Errorf("no answer configured")
	}
	return a.answer, nil
}
