package migrations

import (
	"database/sql"
	"fmt"
	"time"
)

type User struct {
	ID           int       `db:"id"`
	FirstName    string    `db:"first_name"`
	LastName     string    `db:"last_name"`
	Email        string    `db:"email"`
	Password     string    `db:"password"`
	Role         string    `db:"role"`
	ProfileImage string    `db:"profile_image"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

var db *sql.DB

// Init sets the DB connection for migrations and queries
func Init(database *sql.DB) {
	db = database
}

// Migrate creates required tables if they do not exist
func Migrate() error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	createUsers := `
	CREATE TABLE IF NOT EXISTS users (
		id INT AUTO_INCREMENT PRIMARY KEY,
		first_name VARCHAR(100) NOT NULL,
		last_name VARCHAR(100) NOT NULL,
		email VARCHAR(191) NOT NULL UNIQUE,
		password VARCHAR(191) NOT NULL,
		role VARCHAR(50) NOT NULL DEFAULT 'user',
		profile_image VARCHAR(255) DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createUsers); err != nil {
		return err
	}

	createPlans := `
	CREATE TABLE IF NOT EXISTS subscription_plans (
		id INT AUTO_INCREMENT PRIMARY KEY,
		tier VARCHAR(20) NOT NULL UNIQUE,
		name VARCHAR(100) NOT NULL,
		currency VARCHAR(10) NOT NULL DEFAULT 'USD',
		price DECIMAL(10,2) NOT NULL DEFAULT 0.00,
		messages_limit INT NOT NULL DEFAULT 0,
		premium_messages_limit INT NOT NULL DEFAULT 0,
		stripe_product_id VARCHAR(64) DEFAULT '',
		stripe_price_id VARCHAR(64) DEFAULT ''
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createPlans); err != nil {
		return err
	}

	// One accounting row per user. Period bounds are epoch milliseconds;
	// purchased credits survive period rollovers.
	createSubs := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		user_id INT PRIMARY KEY,
		tier VARCHAR(20) NOT NULL DEFAULT 'free',
		messages_used INT NOT NULL DEFAULT 0,
		messages_limit INT NOT NULL DEFAULT 0,
		premium_messages_used INT NOT NULL DEFAULT 0,
		premium_messages_limit INT NOT NULL DEFAULT 0,
		message_credits INT NOT NULL DEFAULT 0,
		premium_message_credits INT NOT NULL DEFAULT 0,
		current_period_start BIGINT NOT NULL DEFAULT 0,
		current_period_end BIGINT NOT NULL DEFAULT 0,
		auto_renew TINYINT(1) NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createSubs); err != nil {
		return err
	}

	createUsage := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id CHAR(36) PRIMARY KEY,
		user_id INT NOT NULL,
		model VARCHAR(100) NOT NULL DEFAULT '',
		amount INT NOT NULL,
		estimated_cost DECIMAL(10,6) NOT NULL DEFAULT 0,
		date BIGINT NOT NULL,
		created_at DATETIME NOT NULL,
		INDEX idx_usage_user_date (user_id, date)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createUsage); err != nil {
		return err
	}

	createSessions := `
	CREATE TABLE IF NOT EXISTS stripe_sessions (
		session_id VARCHAR(128) PRIMARY KEY,
		processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createSessions); err != nil {
		return err
	}
	return nil
}

// SeedDefaultPlans inserts the three tiers if none exist
func SeedDefaultPlans() error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(1) FROM subscription_plans").Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		if _, err := db.Exec(`INSERT INTO subscription_plans (tier, name, currency, price, messages_limit, premium_messages_limit) VALUES ('free','Free','USD',0.00,50,0)`); err != nil {
			return err
		}
		if _, err := db.Exec(`INSERT INTO subscription_plans (tier, name, currency, price, messages_limit, premium_messages_limit) VALUES ('pro','Pro','USD',9.99,500,100)`); err != nil {
			return err
		}
		if _, err := db.Exec(`INSERT INTO subscription_plans (tier, name, currency, price, messages_limit, premium_messages_limit) VALUES ('pro_plus','Pro+','USD',19.99,1000,300)`); err != nil {
			return err
		}
	}
	return nil
}

// SeedDefaultUser inserts an admin user if it doesn't exist
func SeedDefaultUser() error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(1) FROM users WHERE email = ?", "admin@anubis.chat").Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		_, err := db.Exec(
			"INSERT INTO users (first_name, last_name, email, password, role) VALUES (?, ?, ?, ?, ?)",
			"Anubis", "Admin", "admin@anubis.chat", "supersecret", "super_admin",
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetUserByEmail retrieves a user from DB by email
func GetUserByEmail(email string) *User {
	if db == nil {
		return nil
	}
	row := db.QueryRow("SELECT id, first_name, last_name, email, password, role, IFNULL(profile_image,''), created_at, updated_at FROM users WHERE email = ? LIMIT 1", email)
	var u User
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Password, &u.Role, &u.ProfileImage, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil
	}
	return &u
}

// GetUserByID retrieves a user by its ID
func GetUserByID(id int) *User {
	if db == nil {
		return nil
	}
	row := db.QueryRow("SELECT id, first_name, last_name, email, password, role, IFNULL(profile_image,''), created_at, updated_at FROM users WHERE id = ? LIMIT 1", id)
	var u User
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Password, &u.Role, &u.ProfileImage, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil
	}
	return &u
}

// CreateUser inserts a new user record
func CreateUser(firstName, lastName, email, password, role string) error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	_, err := db.Exec(
		"INSERT INTO users (first_name, last_name, email, password, role) VALUES (?, ?, ?, ?, ?)",
		firstName, lastName, email, password, role,
	)
	return err
}

// EmailExists checks if a user with the given email exists
func EmailExists(email string) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("db is not initialized")
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(1) FROM users WHERE email = ?", email).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateUserProfile updates first/last name, keeping blanks unchanged
func UpdateUserProfile(id int, firstName, lastName string) error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	cur := GetUserByID(id)
	if cur == nil {
		return fmt.Errorf("user not found")
	}
	if firstName == "" {
		firstName = cur.FirstName
	}
	if lastName == "" {
		lastName = cur.LastName
	}
	_, err := db.Exec("UPDATE users SET first_name = ?, last_name = ?, updated_at = NOW() WHERE id = ?", firstName, lastName, id)
	return err
}
