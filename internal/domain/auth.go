package domain

// Роли операторов
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Permission — право принимать решения по типу заявки в пределах уровня риска.
// Scope=high покрывает low, medium и high.
type Permission struct {
	Action    DecisionType `json:"action"`
	RiskScope RiskTier     `json:"risk_scope"`
}

type NotificationPreferences struct {
	Email         bool     `json:"email"`
	Chat          bool     `json:"chat"`
	MinPriority   Priority `json:"min_priority"`
	QuietHoursUTC []int    `json:"quiet_hours_utc,omitempty"`
}

// OversightUser — оператор, который голосует по заявкам.
type OversightUser struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	Role          string                  `json:"role"`
	Permissions   []Permission            `json:"permissions"`
	Notifications NotificationPreferences `json:"notifications"`
}

func (u OversightUser) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CanDecide проверяет право на действие с учетом уровня риска.
// Администратор может всё.
func (u OversightUser) CanDecide(action DecisionType, risk RiskTier) bool {
	if u.IsAdmin() {
		return true
	}
	for _, p := range u.Permissions {
		if p.Action == action && p.RiskScope.Rank() >= risk.Rank() {
			return true
		}
	}
	return false
}

// HasAction — право на действие без учета уровня риска (расширенный круг после эскалации).
func (u OversightUser) HasAction(action DecisionType) bool {
	if u.IsAdmin() {
		return true
	}
	for _, p := range u.Permissions {
		if p.Action == action {
			return true
		}
	}
	return false
}
