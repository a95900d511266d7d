package identity

// Config holds table and index names for the identity stores.
type Config struct {
	// RolesTable is the DynamoDB table holding role documents.
	// Default: "lattice_roles"
	RolesTable string

	// UsersTable is the DynamoDB table holding user documents.
	// Default: "lattice_users"
	UsersTable string

	// ReservationsTable is the table holding uniqueness reservations.
	// Default: "lattice_reservations"
	ReservationsTable string

	// RoleNameIndex is the GSI on RolesTable keyed by normalized_name.
	// Default: "normalized_name-index"
	RoleNameIndex string

	// UserNameIndex is the GSI on UsersTable keyed by normalized_name.
	// Default: "normalized_name-index"
	UserNameIndex string

	// UserEmailIndex is the GSI on UsersTable keyed by normalized_email.
	// Default: "normalized_email-index"
	UserEmailIndex string

	// RequireUniqueEmail reserves user email addresses the same way user
	// names are reserved. Default: false.
	RequireUniqueEmail bool
}

// DefaultConfig returns the default table and index names.
func DefaultConfig() Config {
	return Config{
		RolesTable:        "lattice_roles",
		UsersTable:        "lattice_users",
		ReservationsTable: "lattice_reservations",
		RoleNameIndex:     "normalized_name-index",
		UserNameIndex:     "normalized_name-index",
		UserEmailIndex:    "normalized_email-index",
	}
}

// validate fills empty values with defaults.
func (c *Config) validate() {
	if c.RolesTable == "" {
		c.RolesTable = "lattice_roles"
	}
	if c.UsersTable == "" {
		c.UsersTable = "lattice_users"
	}
	if c.ReservationsTable == "" {
		c.ReservationsTable = "lattice_reservations"
	}
	if c.RoleNameIndex == "" {
		c.RoleNameIndex = "normalized_name-index"
	}
	if c.UserNameIndex == "" {
		c.UserNameIndex = "normalized_name-index"
	}
	if c.UserEmailIndex == "" {
		c.UserEmailIndex = "normalized_email-index"
	}
}
