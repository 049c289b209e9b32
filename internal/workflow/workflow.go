// Package workflow drives the per-student conversational state machine and
// the stateless guardian approval branch. Every inbound chat message lands
// here after the webhook gate has deduplicated it.
package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gatepass-bot/internal/allocator"
	"gatepass-bot/internal/approval"
	"gatepass-bot/internal/classifier"
	"gatepass-bot/internal/database"
	"gatepass-bot/internal/i18n"
	"gatepass-bot/internal/models"
	"gatepass-bot/pkg/logger"
)

const cancelKeyword = "cancel"

// Store is the persistence surface the engine needs.
type Store interface {
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	GetOrCreateConversationState(ctx context.Context, studentID uuid.UUID, language string) (*models.ConversationState, error)
	UpdateConversationState(ctx context.Context, state *models.ConversationState) error
	CreateExitRequest(ctx context.Context, req *models.ExitRequest) error
	CreateBusExitRequest(ctx context.Context, req *models.ExitRequest) error
	GetGuardian(ctx context.Context, studentID uuid.UUID) (*models.User, error)
	GetLinkedStudents(ctx context.Context, parentID uuid.UUID) ([]models.User, error)
	GetBusesByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Bus, error)
}

// Approver issues and verifies guardian approval codes.
type Approver interface {
	Issue(ctx context.Context, parentID uuid.UUID) (*models.ApprovalCode, error)
	Verify(ctx context.Context, parentID uuid.UUID, submitted string) (*models.ApprovalCode, []database.ApprovedRequest, error)
}

// BusLister exposes the capacity-aware bus listing.
type BusLister interface {
	ListAvailable(ctx context.Context, universityID uuid.UUID) ([]models.Bus, error)
}

// TextSender is the chat channel; SMSSender carries approval codes. Both are
// fire-and-forget: the engine commits state first and only logs send
// failures.
type TextSender interface {
	SendText(ctx context.Context, phone, text string) error
}

type SMSSender interface {
	Send(ctx context.Context, phone, text string) error
}

type Engine struct {
	store    Store
	approver Approver
	buses    BusLister
	chat     TextSender
	sms      SMSSender
	catalog  *i18n.Catalog
	botPhone string
	now      func() time.Time

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewEngine(store Store, approver Approver, buses BusLister, chat TextSender, sms SMSSender, catalog *i18n.Catalog, botPhone string) *Engine {
	return &Engine{
		store:    store,
		approver: approver,
		buses:    buses,
		chat:     chat,
		sms:      sms,
		catalog:  catalog,
		botPhone: botPhone,
		now:      time.Now,
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// HandleMessage routes one inbound message by sender role. Messages from
// phone numbers with no matching account are dropped with a log line.
func (e *Engine) HandleMessage(ctx context.Context, phone, text string) error {
	user, err := e.store.GetUserByPhone(ctx, phone)
	if errors.Is(err, sql.ErrNoRows) {
		zap.L().Info("dropping message from unknown sender", zap.String(logger.FieldPhone, phone))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve sender: %w", err)
	}

	switch user.Role {
	case models.RoleStudent:
		return e.handleStudent(ctx, user, text)
	case models.RoleParent:
		return e.handleGuardian(ctx, user, text)
	default:
		zap.L().Debug("ignoring message from non-workflow role",
			zap.String(logger.FieldUserID, user.ID.String()),
			zap.String("role", string(user.Role)),
		)
		return nil
	}
}

// handleStudent advances the student's conversation. The whole read-act-persist
// span is serialized per student so two overlapping messages cannot both
// observe the same phase.
func (e *Engine) handleStudent(ctx context.Context, student *models.User, text string) error {
	lock := e.studentLock(student.ID)
	lock.Lock()
	defer lock.Unlock()

	detected := i18n.Detect(text)
	state, err := e.store.GetOrCreateConversationState(ctx, student.ID, detected)
	if err != nil {
		return err
	}

	// Language is re-detected while idle and frozen for the rest of the
	// session once a flow has started.
	if state.Phase == models.PhaseIdle && state.Language != detected {
		state.Language = detected
		if err := e.store.UpdateConversationState(ctx, state); err != nil {
			return err
		}
	}
	lang := state.Language

	trimmed := strings.TrimSpace(text)

	if state.Phase != models.PhaseIdle && strings.EqualFold(trimmed, cancelKeyword) {
		state.Phase = models.PhaseIdle
		state.PendingSelection = ""
		if err := e.store.UpdateConversationState(ctx, state); err != nil {
			return err
		}
		e.reply(ctx, student.PhoneNumber, i18n.MsgCancelSuccess, lang, nil)
		return nil
	}

	switch state.Phase {
	case models.PhaseIdle:
		return e.handleIdle(ctx, student, state, trimmed)
	case models.PhaseAwaitingExitMethod:
		return e.handleExitMethod(ctx, student, state, trimmed)
	case models.PhaseAwaitingRelativeName:
		return e.handleRelativeName(ctx, student, state, trimmed)
	case models.PhaseAwaitingBus:
		return e.handleBusSelection(ctx, student, state, trimmed)
	}
	return fmt.Errorf("unhandled conversation phase %q", state.Phase)
}

func (e *Engine) handleIdle(ctx context.Context, student *models.User, state *models.ConversationState, text string) error {
	if !classifier.IsExitRequest(text) {
		e.reply(ctx, student.PhoneNumber, i18n.MsgStartRequest, state.Language, nil)
		return nil
	}

	state.Phase = models.PhaseAwaitingExitMethod
	if err := e.store.UpdateConversationState(ctx, state); err != nil {
		return err
	}
	e.reply(ctx, student.PhoneNumber, i18n.MsgChooseExitMethod, state.Language, nil)
	return nil
}

func (e *Engine) handleExitMethod(ctx context.Context, student *models.User, state *models.ConversationState, text string) error {
	switch text {
	case "1":
		state.Phase = models.PhaseAwaitingRelativeName
		if err := e.store.UpdateConversationState(ctx, state); err != nil {
			return err
		}
		e.reply(ctx, student.PhoneNumber, i18n.MsgAskRelativeName, state.Language, nil)
		return nil

	case "2":
		return e.offerBuses(ctx, student, state)

	case "3":
		now := e.now()
		req := &models.ExitRequest{
			ID:         uuid.New(),
			StudentID:  student.ID,
			Method:     models.MethodSelf,
			Status:     models.StatusApproved,
			ApprovedAt: &now,
		}
		if err := e.store.CreateExitRequest(ctx, req); err != nil {
			return err
		}
		state.Phase = models.PhaseIdle
		if err := e.store.UpdateConversationState(ctx, state); err != nil {
			return err
		}
		e.reply(ctx, student.PhoneNumber, i18n.MsgSelfApproved, state.Language, nil)
		return nil

	default:
		e.reply(ctx, student.PhoneNumber, i18n.MsgInvalidExitMethod, state.Language, nil)
		return nil
	}
}

func (e *Engine) offerBuses(ctx context.Context, student *models.User, state *models.ConversationState) error {
	if student.UniversityID == nil {
		e.reply(ctx, student.PhoneNumber, i18n.MsgNoBuses, state.Language, nil)
		return nil
	}

	buses, err := e.buses.ListAvailable(ctx, *student.UniversityID)
	if err != nil {
		return err
	}
	if len(buses) == 0 {
		e.reply(ctx, student.PhoneNumber, i18n.MsgNoBuses, state.Language, nil)
		return nil
	}

	// Stash the offered IDs: selection later binds to this list, not to a
	// fresh query, so positions cannot shift under the student.
	ids := make([]string, len(buses))
	var listing strings.Builder
	for i, bus := range buses {
		ids[i] = bus.ID.String()
		fmt.Fprintf(&listing, "%d. %s - %s\n", i+1, bus.Name, bus.DestinationDistrict)
	}

	state.Phase = models.PhaseAwaitingBus
	state.PendingSelection = strings.Join(ids, ",")
	if err := e.store.UpdateConversationState(ctx, state); err != nil {
		return err
	}

	e.reply(ctx, student.PhoneNumber, i18n.MsgSelectBus, state.Language,
		map[string]string{"buses": strings.TrimRight(listing.String(), "\n")})
	return nil
}

func (e *Engine) handleRelativeName(ctx context.Context, student *models.User, state *models.ConversationState, name string) error {
	req := &models.ExitRequest{
		ID:           uuid.New(),
		StudentID:    student.ID,
		Method:       models.MethodRelative,
		RelativeName: name,
		Status:       models.StatusPending,
	}
	if err := e.store.CreateExitRequest(ctx, req); err != nil {
		return err
	}

	// The conversation returns to idle regardless of guardian timing; the
	// approval itself arrives through the guardian branch.
	state.Phase = models.PhaseIdle
	if err := e.store.UpdateConversationState(ctx, state); err != nil {
		return err
	}

	guardian, err := e.store.GetGuardian(ctx, student.ID)
	if errors.Is(err, sql.ErrNoRows) {
		// Known inconsistency, kept deliberately: the request stays pending
		// so an admin can link a guardian and rescue it later.
		zap.L().Warn("no guardian linked for pending request",
			zap.String(logger.FieldStudentID, student.ID.String()),
			zap.String(logger.FieldRequestID, req.ID.String()),
		)
		e.reply(ctx, student.PhoneNumber, i18n.MsgNoGuardian, state.Language, nil)
		return nil
	}
	if err != nil {
		return err
	}

	code, err := e.approver.Issue(ctx, guardian.ID)
	if err != nil {
		return err
	}

	relativeClause := ""
	if name != "" {
		relativeClause = " (" + name + ")"
	}
	sms := e.catalog.Render(i18n.MsgGuardianCodeSMS, i18n.Detect(guardian.Name), map[string]string{
		"student":  student.Name,
		"relative": relativeClause,
		"code":     code.Code,
		"bot":      e.botPhone,
	})
	if err := e.sms.Send(ctx, guardian.PhoneNumber, sms); err != nil {
		zap.L().Error("failed to deliver approval code sms",
			zap.String(logger.FieldParentID, guardian.ID.String()),
			zap.Error(err),
		)
	}

	e.reply(ctx, student.PhoneNumber, i18n.MsgRequestSentRelative, state.Language,
		map[string]string{"name": name})
	return nil
}

func (e *Engine) handleBusSelection(ctx context.Context, student *models.User, state *models.ConversationState, text string) error {
	offered, err := e.offeredBuses(ctx, state.PendingSelection)
	if err != nil {
		return err
	}

	bus := allocator.Resolve(text, offered)
	if bus == nil {
		e.reply(ctx, student.PhoneNumber, i18n.MsgInvalidBus, state.Language, nil)
		return nil
	}

	now := e.now()
	req := &models.ExitRequest{
		ID:         uuid.New(),
		StudentID:  student.ID,
		BusID:      &bus.ID,
		Method:     models.MethodBus,
		Status:     models.StatusApproved,
		ApprovedAt: &now,
	}
	err = e.store.CreateBusExitRequest(ctx, req)
	if errors.Is(err, database.ErrBusFull) {
		e.reply(ctx, student.PhoneNumber, i18n.MsgBusFull, state.Language, nil)
		return nil
	}
	if err != nil {
		return err
	}

	state.Phase = models.PhaseIdle
	state.PendingSelection = ""
	if err := e.store.UpdateConversationState(ctx, state); err != nil {
		return err
	}

	e.reply(ctx, student.PhoneNumber, i18n.MsgBusConfirmed, state.Language, nil)
	return nil
}

// handleGuardian treats any guardian message as a possible code submission.
// Guardians have no state machine.
func (e *Engine) handleGuardian(ctx context.Context, guardian *models.User, text string) error {
	lang := i18n.Detect(text)
	submitted := strings.TrimSpace(strings.ReplaceAll(strings.ToLower(text), "approve", ""))

	code, approved, err := e.approver.Verify(ctx, guardian.ID, submitted)
	if errors.Is(err, approval.ErrNoMatch) {
		return e.guardianFallback(ctx, guardian, lang)
	}
	if err != nil {
		return err
	}

	zap.L().Info("approval code verified",
		zap.String(logger.FieldParentID, guardian.ID.String()),
		zap.Int("approved_requests", len(approved)),
		zap.String("code_id", code.ID.String()),
	)

	// State is already committed; notifications are best-effort from here.
	var sendErr error
	for _, item := range approved {
		notice := e.catalog.Render(i18n.MsgStudentNotified, lang, nil)
		if err := e.chat.SendText(ctx, item.Student.PhoneNumber, notice); err != nil {
			sendErr = multierr.Append(sendErr, err)
		}
	}
	if sendErr != nil {
		zap.L().Error("failed to notify approved students",
			zap.String(logger.FieldParentID, guardian.ID.String()),
			zap.Error(sendErr),
		)
	}

	if len(approved) > 0 {
		e.reply(ctx, guardian.PhoneNumber, i18n.MsgGuardianApproved, lang, nil)
	} else {
		e.reply(ctx, guardian.PhoneNumber, i18n.MsgCodeNoRequests, lang, nil)
	}
	return nil
}

func (e *Engine) guardianFallback(ctx context.Context, guardian *models.User, lang string) error {
	students, err := e.store.GetLinkedStudents(ctx, guardian.ID)
	if err != nil {
		return err
	}
	if len(students) == 0 {
		e.reply(ctx, guardian.PhoneNumber, i18n.MsgNotLinked, lang, nil)
		return nil
	}

	var names strings.Builder
	for i, s := range students {
		if i > 0 {
			names.WriteByte('\n')
		}
		names.WriteString("• " + s.Name)
	}
	e.reply(ctx, guardian.PhoneNumber, i18n.MsgIntroList, lang,
		map[string]string{"students": names.String()})
	return nil
}

func (e *Engine) offeredBuses(ctx context.Context, stash string) ([]models.Bus, error) {
	if stash == "" {
		return nil, nil
	}

	parts := strings.Split(stash, ",")
	ids := make([]uuid.UUID, 0, len(parts))
	for _, part := range parts {
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("corrupt pending selection %q: %w", stash, err)
		}
		ids = append(ids, id)
	}
	return e.store.GetBusesByIDs(ctx, ids)
}

// reply renders a catalog message and sends it over chat, logging (not
// propagating) delivery failures. State has always been committed before a
// reply goes out.
func (e *Engine) reply(ctx context.Context, phone string, id i18n.MessageID, lang string, args map[string]string) {
	if err := e.chat.SendText(ctx, phone, e.catalog.Render(id, lang, args)); err != nil {
		zap.L().Error("failed to send reply",
			zap.String(logger.FieldPhone, phone),
			zap.String("message_id", string(id)),
			zap.Error(err),
		)
	}
}

func (e *Engine) studentLock(id uuid.UUID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}
