package relay

import (
	"context"
	"errors"

	"leadrelay_backend/internal/dedupe"
	"leadrelay_backend/internal/names"
	"leadrelay_backend/internal/poli"
	"leadrelay_backend/internal/routing"
	"leadrelay_backend/platform/apperr"
	"leadrelay_backend/platform/logger"
	"leadrelay_backend/platform/validator"
)

// Outcome is the terminal disposition of a processed lead.
type Outcome int

const (
	// OutcomeCreated means the lead was relayed and the template dispatched.
	OutcomeCreated Outcome = iota
	// OutcomeDuplicate means the lead was already fully processed.
	OutcomeDuplicate
	// OutcomeInProgress means another delivery of the same lead is being
	// processed right now.
	OutcomeInProgress
	// OutcomeSuppressed means the contact received this template recently;
	// the lead is recorded but nothing was sent.
	OutcomeSuppressed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeInProgress:
		return "in_progress"
	case OutcomeSuppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Result reports what happened to a lead.
type Result struct {
	Outcome    Outcome `json:"outcome"`
	ContactID  string  `json:"contact_id,omitempty"`
	OperatorID string  `json:"operator_id,omitempty"`
	TemplateID string  `json:"template_id,omitempty"`
	ChatID     string  `json:"chat_id,omitempty"`
	MessageID  string  `json:"message_id,omitempty"`
}

// CRM is the slice of the Poli Digital client the pipeline depends on.
type CRM interface {
	EnsureContact(ctx context.Context, name, phoneDigits, cpf, email string) (string, error)
	GetContact(ctx context.Context, id string) (poli.Contact, error)
	UpdateContact(ctx context.Context, id string, fields map[string]string) error
	AssignOperator(ctx context.Context, contactID, operatorID string) error
	SendTemplate(ctx context.Context, p poli.SendParams) (poli.Receipt, error)
	OnlineOperators(ctx context.Context) map[string]bool
}

// TemplatePicker selects the template for the current instant.
type TemplatePicker interface {
	TemplateID() (string, error)
}

// Reprocessor defers a failed lead for a later attempt. Implementations must
// tolerate being nil-safe at the call site; a nil Reprocessor disables
// deferral.
type Reprocessor interface {
	ScheduleReprocess(ctx context.Context, lead Lead) error
}

// Service runs the lead pipeline.
type Service struct {
	store     dedupe.Store
	crm       CRM
	roster    *routing.Roster
	selector  routing.Selector
	templates TemplatePicker
	reprocess Reprocessor
	validate  *validator.Validator
	channelID string
	minor     map[string]struct{}
	log       *logger.Logger
}

// NewService wires the pipeline dependencies. reprocess may be nil.
func NewService(
	store dedupe.Store,
	crm CRM,
	roster *routing.Roster,
	selector routing.Selector,
	templates TemplatePicker,
	reprocess Reprocessor,
	channelID string,
	log *logger.Logger,
) *Service {
	return &Service{
		store:     store,
		crm:       crm,
		roster:    roster,
		selector:  selector,
		templates: templates,
		reprocess: reprocess,
		validate:  validator.New(),
		channelID: channelID,
		minor:     names.DefaultMinorWords(),
		log:       log,
	}
}

// Process runs one lead through deduplication, contact resolution, operator
// assignment, template selection, cooldown and dispatch. Any failure after
// the idempotency key is claimed releases it so a redelivery can retry.
func (s *Service) Process(ctx context.Context, lead Lead) (Result, error) {
	if err := s.validate.Struct(lead); err != nil {
		return Result{}, apperr.Wrap(apperr.KindValidation, "lead is missing required fields", err)
	}

	key := dedupe.LeadKey(lead.OriginLeadID, lead.PhoneDigits, lead.PropertyCode)
	status, err := s.store.TryBegin(ctx, key)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindInternal, "idempotency store unavailable", err)
	}
	switch status {
	case dedupe.AlreadyDone:
		return Result{Outcome: OutcomeDuplicate}, nil
	case dedupe.AlreadyInflight:
		return Result{Outcome: OutcomeInProgress}, nil
	}

	result, err := s.relay(ctx, lead)
	if err != nil {
		if apperr.Is(err, apperr.KindUpstream) {
			s.log.UpstreamError("relay lead", err)
		}
		s.release(ctx, key)
		s.maybeReprocess(ctx, lead, err)
		return Result{}, err
	}

	if err := s.store.MarkDone(ctx, key); err != nil {
		s.log.Warn("failed to mark lead done", "key", key, "error", err.Error())
	}
	return result, nil
}

func (s *Service) relay(ctx context.Context, lead Lead) (Result, error) {
	displayName := names.Normalize(lead.Name, names.Title, s.minor)

	contactID, err := s.crm.EnsureContact(ctx, displayName, lead.PhoneDigits, lead.CPF, lead.Email)
	if err != nil {
		return Result{}, upstream("resolve contact", err)
	}

	contact, err := s.crm.GetContact(ctx, contactID)
	if err != nil {
		if errors.Is(err, poli.ErrContactNotFound) {
			return Result{}, apperr.Wrap(apperr.KindUpstream, "contact vanished after creation", err)
		}
		return Result{}, upstream("fetch contact", err)
	}
	if contact.ID == "" {
		// Some tenants omit the id from the fetch body; the creation call
		// already established it.
		contact.ID = contactID
	}

	s.reconcile(ctx, lead, contact, displayName)

	operatorID := contact.OperatorID
	if operatorID == "" {
		operatorID, err = s.assign(ctx, lead, contact)
		if err != nil {
			return Result{}, err
		}
	}

	templateID, err := s.templates.TemplateID()
	if err != nil {
		return Result{}, err
	}

	cooldownKey := dedupe.CooldownKey(contact.ID, templateID)
	suppressed, err := s.store.WithinCooldown(ctx, cooldownKey)
	if err != nil {
		s.log.Warn("cooldown check failed, proceeding with send", "error", err.Error())
	}
	if suppressed {
		return Result{
			Outcome:    OutcomeSuppressed,
			ContactID:  contact.ID,
			OperatorID: operatorID,
			TemplateID: templateID,
		}, nil
	}

	receipt, err := s.crm.SendTemplate(ctx, poli.SendParams{
		ContactID:   contact.ID,
		OperatorID:  operatorID,
		TemplateID:  templateID,
		FirstParam:  displayName,
		SecondParam: s.roster.DisplayName(operatorID),
		ChannelID:   s.channel(contact),
	})
	if err != nil {
		return Result{}, upstream("send template", err)
	}

	if err := s.store.RecordSend(ctx, cooldownKey); err != nil {
		s.log.Warn("failed to record send for cooldown", "error", err.Error())
	}

	return Result{
		Outcome:    OutcomeCreated,
		ContactID:  contact.ID,
		OperatorID: operatorID,
		TemplateID: templateID,
		ChatID:     receipt.ChatID,
		MessageID:  receipt.MessageID,
	}, nil
}

// reconcile pushes lead fields the CRM record is missing or mangling. Update
// failures are logged, not fatal: the message still goes out.
func (s *Service) reconcile(ctx context.Context, lead Lead, contact poli.Contact, displayName string) {
	fields := map[string]string{}
	if names.NeedsUpdate(contact.Name, displayName) {
		fields["name"] = displayName
	}
	if contact.CPF == "" && lead.CPF != "" {
		fields["cpf"] = lead.CPF
	}
	if contact.Email == "" && lead.Email != "" {
		fields["email"] = lead.Email
	}
	if len(fields) == 0 {
		return
	}

	if err := s.crm.UpdateContact(ctx, contact.ID, fields); err != nil {
		s.log.Warn("contact reconcile failed", "contact_id", contact.ID, "error", err.Error())
	}
}

func (s *Service) assign(ctx context.Context, lead Lead, contact poli.Contact) (string, error) {
	queue := s.roster.ResolveQueue(lead.PropertyCode)
	pool := s.roster.Pool(queue)
	live := s.crm.OnlineOperators(ctx)

	operator, err := s.selector.Select(ctx, queue, pool, live)
	if err != nil {
		return "", err
	}

	if err := s.crm.AssignOperator(ctx, contact.ID, operator.ID); err != nil {
		return "", upstream("assign operator", err)
	}
	return operator.ID, nil
}

func (s *Service) channel(contact poli.Contact) string {
	if len(contact.Channels) > 0 {
		return contact.Channels[0].ID
	}
	return s.channelID
}

func (s *Service) release(ctx context.Context, key string) {
	if err := s.store.Release(ctx, key); err != nil {
		s.log.Warn("failed to release idempotency key", "key", key, "error", err.Error())
	}
}

// maybeReprocess defers upstream failures for a later attempt. Validation
// and configuration failures never requeue: they would fail identically.
// A rejected template dispatch never requeues either: the CRM accepted the
// call, and re-running it could double-message the recipient.
func (s *Service) maybeReprocess(ctx context.Context, lead Lead, cause error) {
	if s.reprocess == nil || !apperr.Is(cause, apperr.KindUpstream) {
		return
	}
	if errors.Is(cause, poli.ErrTemplateRejected) {
		return
	}

	lead.Attempt++
	if err := s.reprocess.ScheduleReprocess(ctx, lead); err != nil {
		s.log.Warn("failed to schedule lead reprocess", "error", err.Error())
	}
}

func upstream(op string, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Wrap(apperr.KindUpstream, op+" failed", err)
}
