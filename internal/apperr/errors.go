package apperr

var (
	ErrTenantNotFound      = New(KindNotFound, "tenant_not_found", "tenant not found")
	ErrUserNotFound        = New(KindNotFound, "user_not_found", "user not found")
	ErrPartnershipNotFound = New(KindNotFound, "partnership_not_found", "partnership not found")
	ErrExportNotFound      = New(KindNotFound, "export_not_found", "export not found")

	ErrCycleDetected = New(KindInvalidHierarchy, "cycle_detected", "cannot move tenant under itself or its own descendant")
	ErrDepthExceeded = New(KindInvalidHierarchy, "depth_exceeded", "hierarchy depth would exceed the hub's max depth")
	ErrParentNotHub  = New(KindInvalidHierarchy, "parent_not_hub", "parent tenant does not allow sub-tenants")
	ErrHasChildren   = New(KindInvalidHierarchy, "has_children", "tenant has sub-tenants; move or remove them first")

	ErrProtectedTenant = New(KindForbidden, "protected_tenant", "tenant is protected and cannot be modified this way")
	ErrSlugImmutable   = New(KindValidation, "slug_immutable", "slug cannot be changed after creation")
	ErrDuplicateSlug   = New(KindDuplicateEntry, "duplicate_slug", "a tenant with this slug already exists")
	ErrDuplicateDomain = New(KindDuplicateEntry, "duplicate_domain", "a tenant with this domain already exists")
	ErrDuplicateEmail  = New(KindDuplicateEntry, "duplicate_email", "a user with this email already exists")
	ErrTargetNotHub    = New(KindValidation, "target_not_hub", "target tenant must be a hub tenant to grant super admin")

	ErrNotLockedDown      = New(KindInvalidTransition, "not_locked_down", "federation is not locked down")
	ErrAlreadyLockedDown  = New(KindInvalidTransition, "already_locked_down", "federation is already locked down")
	ErrAlreadyWhitelisted = New(KindDuplicateEntry, "already_whitelisted", "tenant is already whitelisted")
	ErrNotWhitelisted     = New(KindNotFound, "not_whitelisted", "tenant is not whitelisted")
	ErrUnknownFeature     = New(KindValidation, "unknown_feature", "unknown federation feature")

	ErrSelfPartnership      = New(KindValidation, "self_partnership", "a tenant cannot partner with itself")
	ErrDuplicatePartnership = New(KindDuplicateEntry, "duplicate_partnership", "an active or suspended partnership already exists for these tenants")
	ErrInvalidTransition    = New(KindInvalidTransition, "invalid_transition", "transition not allowed from the current status")
	ErrReasonRequired       = New(KindValidation, "reason_required", "a reason is required")

	ErrConflict             = New(KindConflict, "conflict", "concurrent update, try again")
	ErrUnauthorized         = New(KindUnauthorized, "unauthorized", "authentication required")
	ErrForbidden            = New(KindForbidden, "forbidden", "insufficient permissions")
	ErrConfirmationRequired = New(KindValidation, "confirmation_required", "this action requires confirmation")
	ErrInvalidConfirmation  = New(KindValidation, "invalid_confirmation", "confirmation token is invalid or expired")
	ErrPartialFailure       = New(KindPartialFailure, "partial_failure", "some items failed")
)
