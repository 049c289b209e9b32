package workflow

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"gatepass-bot/internal/approval"
	"gatepass-bot/internal/database"
	"gatepass-bot/internal/i18n"
	"gatepass-bot/internal/models"
)

type fakeStore struct {
	usersByPhone map[string]*models.User
	states       map[uuid.UUID]*models.ConversationState
	requests     []*models.ExitRequest
	guardians    map[uuid.UUID]*models.User
	linked       map[uuid.UUID][]models.User
	buses        map[uuid.UUID]models.Bus
	busFull      bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		usersByPhone: make(map[string]*models.User),
		states:       make(map[uuid.UUID]*models.ConversationState),
		guardians:    make(map[uuid.UUID]*models.User),
		linked:       make(map[uuid.UUID][]models.User),
		buses:        make(map[uuid.UUID]models.Bus),
	}
}

func (f *fakeStore) GetUserByPhone(_ context.Context, phone string) (*models.User, error) {
	user, ok := f.usersByPhone[phone]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetOrCreateConversationState(_ context.Context, studentID uuid.UUID, language string) (*models.ConversationState, error) {
	if state, ok := f.states[studentID]; ok {
		return state, nil
	}
	state := &models.ConversationState{
		ID:        uuid.New(),
		StudentID: studentID,
		Phase:     models.PhaseIdle,
		Language:  language,
	}
	f.states[studentID] = state
	return state, nil
}

func (f *fakeStore) UpdateConversationState(_ context.Context, state *models.ConversationState) error {
	state.UpdatedAt = time.Now()
	f.states[state.StudentID] = state
	return nil
}

func (f *fakeStore) CreateExitRequest(_ context.Context, req *models.ExitRequest) error {
	req.RequestedAt = time.Now()
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeStore) CreateBusExitRequest(_ context.Context, req *models.ExitRequest) error {
	if f.busFull {
		return database.ErrBusFull
	}
	return f.CreateExitRequest(context.Background(), req)
}

func (f *fakeStore) GetGuardian(_ context.Context, studentID uuid.UUID) (*models.User, error) {
	guardian, ok := f.guardians[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return guardian, nil
}

func (f *fakeStore) GetLinkedStudents(_ context.Context, parentID uuid.UUID) ([]models.User, error) {
	return f.linked[parentID], nil
}

func (f *fakeStore) GetBusesByIDs(_ context.Context, ids []uuid.UUID) ([]models.Bus, error) {
	var out []models.Bus
	for _, id := range ids {
		if bus, ok := f.buses[id]; ok {
			out = append(out, bus)
		}
	}
	return out, nil
}

type fakeApprover struct {
	issued   []*models.ApprovalCode
	verified *models.ApprovalCode
	approved []database.ApprovedRequest
	noMatch  bool
}

func (f *fakeApprover) Issue(_ context.Context, parentID uuid.UUID) (*models.ApprovalCode, error) {
	code := &models.ApprovalCode{
		ID:        uuid.New(),
		ParentID:  parentID,
		Code:      "123456",
		ExpiresAt: time.Now().Add(approval.CodeTTL),
	}
	f.issued = append(f.issued, code)
	return code, nil
}

func (f *fakeApprover) Verify(_ context.Context, _ uuid.UUID, _ string) (*models.ApprovalCode, []database.ApprovedRequest, error) {
	if f.noMatch {
		return nil, nil, approval.ErrNoMatch
	}
	return f.verified, f.approved, nil
}

type fakeLister struct {
	available []models.Bus
}

func (f *fakeLister) ListAvailable(_ context.Context, _ uuid.UUID) ([]models.Bus, error) {
	return f.available, nil
}

type sentMessage struct {
	phone string
	text  string
}

type fakeSender struct {
	sent []sentMessage
}

func (f *fakeSender) SendText(_ context.Context, phone, text string) error {
	f.sent = append(f.sent, sentMessage{phone, text})
	return nil
}

func (f *fakeSender) Send(_ context.Context, phone, text string) error {
	f.sent = append(f.sent, sentMessage{phone, text})
	return nil
}

func (f *fakeSender) last() sentMessage {
	if len(f.sent) == 0 {
		return sentMessage{}
	}
	return f.sent[len(f.sent)-1]
}

type fixture struct {
	engine   *Engine
	store    *fakeStore
	approver *fakeApprover
	lister   *fakeLister
	chat     *fakeSender
	sms      *fakeSender
	catalog  *i18n.Catalog
}

func newFixture() *fixture {
	store := newFakeStore()
	approver := &fakeApprover{}
	lister := &fakeLister{}
	chat := &fakeSender{}
	sms := &fakeSender{}
	catalog := i18n.NewCatalog()
	return &fixture{
		engine:   NewEngine(store, approver, lister, chat, sms, catalog, "96878788804"),
		store:    store,
		approver: approver,
		lister:   lister,
		chat:     chat,
		sms:      sms,
		catalog:  catalog,
	}
}

func (fx *fixture) addStudent(phone string) *models.User {
	universityID := uuid.New()
	student := &models.User{
		ID:           uuid.New(),
		Name:         "Salma",
		PhoneNumber:  phone,
		Role:         models.RoleStudent,
		UniversityID: &universityID,
		IsActive:     true,
	}
	fx.store.usersByPhone[phone] = student
	return student
}

func (fx *fixture) addGuardian(phone string, students ...models.User) *models.User {
	guardian := &models.User{
		ID:          uuid.New(),
		Name:        "Fatima",
		PhoneNumber: phone,
		Role:        models.RoleParent,
		IsActive:    true,
	}
	fx.store.usersByPhone[phone] = guardian
	for _, s := range students {
		fx.store.guardians[s.ID] = guardian
		fx.store.linked[guardian.ID] = append(fx.store.linked[guardian.ID], s)
	}
	return guardian
}

func (fx *fixture) handle(t *testing.T, phone, text string) {
	t.Helper()
	if err := fx.engine.HandleMessage(context.Background(), phone, text); err != nil {
		t.Fatalf("HandleMessage(%q, %q): %v", phone, text, err)
	}
}

func (fx *fixture) phase(studentID uuid.UUID) models.Phase {
	return fx.store.states[studentID].Phase
}

func TestUnknownSenderIsDropped(t *testing.T) {
	fx := newFixture()

	fx.handle(t, "96800000000", "hello")

	if len(fx.chat.sent) != 0 {
		t.Fatalf("expected no reply to unknown sender, got %v", fx.chat.sent)
	}
}

func TestIdleTriggerPromptsForMethod(t *testing.T) {
	fx := newFixture()
	student := fx.addStudent("96812345678")

	fx.handle(t, student.PhoneNumber, "request exit")

	if got := fx.phase(student.ID); got != models.PhaseAwaitingExitMethod {
		t.Fatalf("phase = %q, want awaiting_exit_method", got)
	}
	want := fx.catalog.Render(i18n.MsgChooseExitMethod, i18n.LangEnglish, nil)
	if fx.chat.last().text != want {
		t.Fatalf("reply = %q, want method prompt", fx.chat.last().text)
	}
}

func TestIdleNonTriggerSendsHelp(t *testing.T) {
	fx := newFixture()
	student := fx.addStudent("96812345678")

	fx.handle(t, student.PhoneNumber, "good morning")

	if got := fx.phase(student.ID); got != models.PhaseIdle {
		t.Fatalf("phase = %q, want idle", got)
	}
	want := fx.catalog.Render(i18n.MsgStartRequest, i18n.LangEnglish, nil)
	if fx.chat.last().text != want {
		t.Fatalf("reply = %q, want help text", fx.chat.last().text)
	}
}

func TestCancelFromAnyNonIdlePhaseResets(t *testing.T) {
	for _, phase := range []models.Phase{
		models.PhaseAwaitingExitMethod,
		models.PhaseAwaitingRelativeName,
		models.PhaseAwaitingBus,
	} {
		fx := newFixture()
		student := fx.addStudent("96812345678")
		fx.store.states[student.ID] = &models.ConversationState{
			ID:               uuid.New(),
			StudentID:        student.ID,
			Phase:            phase,
			Language:         i18n.LangEnglish,
			PendingSelection: uuid.New().String(),
		}

		fx.handle(t, student.PhoneNumber, "CANCEL")

		state := fx.store.states[student.ID]
		if state.Phase != models.PhaseIdle {
			t.Errorf("%s: phase = %q, want idle", phase, state.Phase)
		}
		if state.PendingSelection != "" {
			t.Errorf("%s: stashed selection not cleared", phase)
		}
		want := fx.catalog.Render(i18n.MsgCancelSuccess, i18n.LangEnglish, nil)
		if fx.chat.last().text != want {
			t.Errorf("%s: reply = %q, want cancellation notice", phase, fx.chat.last().text)
		}
	}
}

func TestSelfExitIsAutoApproved(t *testing.T) {
	fx := newFixture()
	student := fx.addStudent("96812345678")

	fx.handle(t, student.PhoneNumber, "request exit")
	fx.handle(t, student.PhoneNumber, "3")

	if len(fx.store.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(fx.store.requests))
	}
	req := fx.store.requests[0]
	if req.Method != models.MethodSelf || req.Status != models.StatusApproved || req.ApprovedAt == nil {
		t.Fatalf("self request = %+v, want auto-approved", req)
	}
	if got := fx.phase(student.ID); got != models.PhaseIdle {
		t.Fatalf("phase = %q, want idle", got)
	}
	if len(fx.approver.issued) != 0 {
		t.Fatalf("self exit must not issue an approval code")
	}
}

func TestRelativeFlowIssuesGuardianCode(t *testing.T) {
	fx := newFixture()
	student := fx.addStudent("96812345678")
	guardian := fx.addGuardian("96887654321", *student)

	fx.handle(t, student.PhoneNumber, "request exit")
	fx.handle(t, student.PhoneNumber, "1")

	if got := fx.phase(student.ID); got != models.PhaseAwaitingRelativeName {
		t.Fatalf("phase = %q, want awaiting_relative_name", got)
	}

	fx.handle(t, student.PhoneNumber, "Aunt Fatima")

	if len(fx.store.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(fx.store.requests))
	}
	req := fx.store.requests[0]
	if req.Method != models.MethodRelative || req.Status != models.StatusPending {
		t.Fatalf("relative request = %+v, want pending", req)
	}
	if req.RelativeName != "Aunt Fatima" {
		t.Fatalf("relative name = %q", req.RelativeName)
	}

	if len(fx.approver.issued) != 1 || fx.approver.issued[0].ParentID != guardian.ID {
		t.Fatalf("expected one code issued to guardian, got %+v", fx.approver.issued)
	}
	if len(fx.sms.sent) != 1 || fx.sms.last().phone != guardian.PhoneNumber {
		t.Fatalf("expected code SMS to guardian, got %v", fx.sms.sent)
	}
	if !strings.Contains(fx.sms.last().text, "123456") {
		t.Fatalf("SMS missing code: %q", fx.sms.last().text)
	}

	// The student's conversation is back at idle regardless of guardian
	// timing.
	if got := fx.phase(student.ID); got != models.PhaseIdle {
		t.Fatalf("phase = %q, want idle", got)
	}
	if !strings.Contains(fx.chat.last().text, "Aunt Fatima") {
		t.Fatalf("student reply missing companion name: %q", fx.chat.last().text)
	}
}

func TestRelativeFlowWithoutGuardianKeepsRequestPending(t *testing.T) {
	fx := newFixture()
	student := fx.addStudent("96812345678")

	fx.handle(t, student.PhoneNumber, "request exit")
	fx.handle(t, student.PhoneNumber, "1")
	fx.handle(t, student.PhoneNumber, "Uncle Said")

	if len(fx.store.requests) != 1 || fx.store.requests[0].Status != models.StatusPending {
		t.Fatalf("pending request must be written even without a guardian")
	}
	want := fx.catalog.Render(i18n.MsgNoGuardian, i18n.LangEnglish, nil)
	if fx.chat.last().text != want {
		t.Fatalf("reply = %q, want admin-contact message", fx.chat.last().text)
	}
	if len(fx.approver.issued) != 0 {
		t.Fatalf("no code should be issued without a guardian")
	}
}

func TestBusSelectionBindsToOfferedList(t *testing.T) {
	fx := newFixture()
	student := fx.addStudent("96812345678")

	busA := models.Bus{ID: uuid.New(), Name: "North Line", DestinationDistrict: "Al Khoud", Capacity: 2}
	busB := models.Bus{ID: uuid.New(), Name: "South Line", DestinationDistrict: "Al Hail", Capacity: 2}
	fx.store.buses[busA.ID] = busA
	fx.store.buses[busB.ID] = busB
	fx.lister.available = []models.Bus{busA, busB}

	fx.handle(t, student.PhoneNumber, "request exit")
	fx.handle(t, student.PhoneNumber, "2")

	state := fx.store.states[student.ID]
	if state.Phase != models.PhaseAwaitingBus {
		t.Fatalf("phase = %q, want awaiting_bus", state.Phase)
	}
	if state.PendingSelection != busA.ID.String()+","+busB.ID.String() {
		t.Fatalf("stash = %q", state.PendingSelection)
	}

	// The live listing changes, but selection still resolves against the
	// stashed offer.
	fx.lister.available = []models.Bus{busB}

	fx.handle(t, student.PhoneNumber, "2")

	if len(fx.store.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(fx.store.requests))
	}
	req := fx.store.requests[0]
	if req.BusID == nil || *req.BusID != busB.ID {
		t.Fatalf("selection 2 bound to %v, want offered bus %s", req.BusID, busB.ID)
	}
	if req.Method != models.MethodBus || req.Status != models.StatusApproved {
		t.Fatalf("bus request = %+v, want auto-approved", req)
	}
	state = fx.store.states[student.ID]
	if state.Phase != models.PhaseIdle || state.PendingSelection != "" {
		t.Fatalf("state after booking = %+v, want idle with empty stash", state)
	}
}

func TestBusSelectionRepromptsOnInvalidInput(t *testing.T) {
	fx := newFixture()
	student := fx.addStudent("96812345678")

	bus := models.Bus{ID: uuid.New(), Name: "North Line", DestinationDistrict: "Al Khoud", Capacity: 2}
	fx.store.buses[bus.ID] = bus
	fx.lister.available = []models.Bus{bus}

	fx.handle(t, student.PhoneNumber, "request exit")
	fx.handle(t, student.PhoneNumber, "2")
	fx.handle(t, student.PhoneNumber, "9")

	if got := fx.phase(student.ID); got != models.PhaseAwaitingBus {
		t.Fatalf("phase = %q, want awaiting_bus after bad selection", got)
	}
	if len(fx.store.requests) != 0 {
		t.Fatalf("no request should be created for an unresolved selection")
	}
	want := fx.catalog.Render(i18n.MsgInvalidBus, i18n.LangEnglish, nil)
	if fx.chat.last().text != want {
		t.Fatalf("reply = %q, want retry prompt", fx.chat.last().text)
	}
}

func TestBusSelectionRepromptsWhenSeatLost(t *testing.T) {
	fx := newFixture()
	student := fx.addStudent("96812345678")

	bus := models.Bus{ID: uuid.New(), Name: "North Line", DestinationDistrict: "Al Khoud", Capacity: 1}
	fx.store.buses[bus.ID] = bus
	fx.lister.available = []models.Bus{bus}

	fx.handle(t, student.PhoneNumber, "request exit")
	fx.handle(t, student.PhoneNumber, "2")

	fx.store.busFull = true
	fx.handle(t, student.PhoneNumber, "1")

	if len(fx.store.requests) != 0 {
		t.Fatalf("booking must not commit when the seat is gone")
	}
	if got := fx.phase(student.ID); got != models.PhaseAwaitingBus {
		t.Fatalf("phase = %q, want awaiting_bus after lost seat", got)
	}
}

func TestEmptyBusListingKeepsMethodPrompt(t *testing.T) {
	fx := newFixture()
	student := fx.addStudent("96812345678")

	fx.handle(t, student.PhoneNumber, "request exit")
	fx.handle(t, student.PhoneNumber, "2")

	if got := fx.phase(student.ID); got != models.PhaseAwaitingExitMethod {
		t.Fatalf("phase = %q, want awaiting_exit_method", got)
	}
	want := fx.catalog.Render(i18n.MsgNoBuses, i18n.LangEnglish, nil)
	if fx.chat.last().text != want {
		t.Fatalf("reply = %q, want no-buses notice", fx.chat.last().text)
	}
}

func TestLanguageSticksOnceFlowStarts(t *testing.T) {
	fx := newFixture()
	student := fx.addStudent("96812345678")

	fx.handle(t, student.PhoneNumber, "طلب خروج")

	if fx.store.states[student.ID].Language != i18n.LangArabic {
		t.Fatalf("language = %q, want ar", fx.store.states[student.ID].Language)
	}

	// Latin input mid-flow must not flip the session language.
	fx.handle(t, student.PhoneNumber, "99")

	if fx.store.states[student.ID].Language != i18n.LangArabic {
		t.Fatalf("language flipped mid-flow")
	}
	want := fx.catalog.Render(i18n.MsgInvalidExitMethod, i18n.LangArabic, nil)
	if fx.chat.last().text != want {
		t.Fatalf("reply = %q, want arabic re-prompt", fx.chat.last().text)
	}
}

func TestGuardianApprovalNotifiesEveryStudent(t *testing.T) {
	fx := newFixture()
	studentA := fx.addStudent("96811111111")
	studentB := &models.User{
		ID:          uuid.New(),
		Name:        "Noor",
		PhoneNumber: "96822222222",
		Role:        models.RoleStudent,
	}
	fx.store.usersByPhone[studentB.PhoneNumber] = studentB
	guardian := fx.addGuardian("96887654321", *studentA, *studentB)

	parentID := guardian.ID
	fx.approver.verified = &models.ApprovalCode{ID: uuid.New(), ParentID: parentID, Code: "123456", Verified: true}
	fx.approver.approved = []database.ApprovedRequest{
		{Request: models.ExitRequest{ID: uuid.New(), StudentID: studentA.ID, Status: models.StatusApproved}, Student: *studentA},
		{Request: models.ExitRequest{ID: uuid.New(), StudentID: studentB.ID, Status: models.StatusApproved}, Student: *studentB},
	}

	fx.handle(t, guardian.PhoneNumber, "approve 123456")

	var notified []string
	for _, m := range fx.chat.sent {
		notified = append(notified, m.phone)
	}
	wantNotified := map[string]bool{
		studentA.PhoneNumber: false,
		studentB.PhoneNumber: false,
		guardian.PhoneNumber: false,
	}
	for _, phone := range notified {
		wantNotified[phone] = true
	}
	for phone, seen := range wantNotified {
		if !seen {
			t.Errorf("no notification sent to %s (sent: %v)", phone, notified)
		}
	}
	want := fx.catalog.Render(i18n.MsgGuardianApproved, i18n.LangEnglish, nil)
	if fx.chat.last().text != want {
		t.Fatalf("guardian reply = %q, want approval confirmation", fx.chat.last().text)
	}
}

func TestGuardianCodeWithNoPendingRequests(t *testing.T) {
	fx := newFixture()
	student := fx.addStudent("96811111111")
	guardian := fx.addGuardian("96887654321", *student)

	fx.approver.verified = &models.ApprovalCode{ID: uuid.New(), ParentID: guardian.ID, Code: "123456", Verified: true}
	fx.approver.approved = nil

	fx.handle(t, guardian.PhoneNumber, "123456")

	want := fx.catalog.Render(i18n.MsgCodeNoRequests, i18n.LangEnglish, nil)
	if fx.chat.last().text != want {
		t.Fatalf("reply = %q, want code-no-requests notice", fx.chat.last().text)
	}
}

func TestGuardianNoMatchGetsStudentDirectory(t *testing.T) {
	fx := newFixture()
	student := fx.addStudent("96811111111")
	guardian := fx.addGuardian("96887654321", *student)
	fx.approver.noMatch = true

	fx.handle(t, guardian.PhoneNumber, "000000")

	if !strings.Contains(fx.chat.last().text, student.Name) {
		t.Fatalf("fallback reply missing linked student: %q", fx.chat.last().text)
	}
}

func TestUnlinkedGuardianGetsNotLinkedNotice(t *testing.T) {
	fx := newFixture()
	guardian := fx.addGuardian("96887654321")
	fx.approver.noMatch = true

	fx.handle(t, guardian.PhoneNumber, "hello")

	want := fx.catalog.Render(i18n.MsgNotLinked, i18n.LangEnglish, nil)
	if fx.chat.last().text != want {
		t.Fatalf("reply = %q, want not-linked notice", fx.chat.last().text)
	}
}
