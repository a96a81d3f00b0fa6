package middleware

import (
	"context"

	"github.com/sirbramstech/campus-backend/pkg/enums"
)

type contextKey string

const (
	ctxMemberID contextKey = "member_id"
	ctxRole     contextKey = "actor_role"
)

// WithMember seeds the context with the authenticated member's identity.
func WithMember(ctx context.Context, memberID int64, role enums.MemberRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxMemberID, memberID)
	return context.WithValue(ctx, ctxRole, role)
}

func MemberIDFromContext(ctx context.Context) int64 {
	if ctx == nil {
		return 0
	}
	if v, ok := ctx.Value(ctxMemberID).(int64); ok {
		return v
	}
	return 0
}

func RoleFromContext(ctx context.Context) enums.MemberRole {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.MemberRole); ok {
		return v
	}
	return ""
}
