package postgres

import "mentorship/internal/backend"

type kind int

const (
	kText kind = iota
	kTime
	kBool
	kFloat
	kInt
	kJSON
)

// tables lists every column the store may read or write, in select order.
// Identifiers outside this list never reach SQL text.
var tables = map[string][]column{
	backend.TableUsers: {
		{"id", kText}, {"email", kText}, {"password_hash", kText}, {"user_type", kText},
		{"email_verified", kBool}, {"created_at", kTime},
	},
	backend.TableProfiles: {
		{"id", kText}, {"user_type", kText}, {"email", kText}, {"full_name", kText},
		{"contact", kText}, {"state", kText}, {"nationality", kText}, {"qualifications", kText},
		{"experience", kText}, {"expertise", kText}, {"institution", kText}, {"goals", kText},
		{"linkedin", kText}, {"profile_image", kText}, {"credentials", kJSON},
		{"rating", kFloat}, {"doubts_solved", kInt}, {"online", kBool},
		{"created_at", kTime}, {"updated_at", kTime},
	},
	backend.TableConnections: {
		{"id", kText}, {"student_id", kText}, {"mentor_id", kText}, {"status", kText},
		{"created_at", kTime}, {"updated_at", kTime},
	},
	backend.TableMessages: {
		{"id", kText}, {"sender_id", kText}, {"receiver_id", kText}, {"content", kText},
		{"image", kText}, {"client_id", kText}, {"time", kTime}, {"created_at", kTime},
		{"read_at", kTime},
	},
}

type column struct {
	name string
	kind kind
}

func lookup(table, col string) (column, bool) {
	for _, c := range tables[table] {
		if c.name == col {
			return c, true
		}
	}
	return column{}, false
}
