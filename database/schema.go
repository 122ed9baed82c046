package database

// schemaSQL is the Whisker Auth TXA schema. Every statement is guarded with
// IF NOT EXISTS so the setup can be re-run against a live instance database.
const schemaSQL = `
-- Users table
CREATE TABLE IF NOT EXISTS txa_users (
    id INTEGER PRIMARY KEY,
    uuid TEXT UNIQUE,
    username TEXT UNIQUE NOT NULL,
    email TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    password_salt TEXT NOT NULL,
    status TEXT DEFAULT 'active',
    is_admin BOOLEAN DEFAULT 0,
    security_level INTEGER DEFAULT 1,
    failed_login_attempts INTEGER DEFAULT 0,
    lockout_until DATETIME,
    last_login_at DATETIME,
    last_login_ip TEXT,
    registered_device_id TEXT,
    hardware_info TEXT,
    device_locked BOOLEAN DEFAULT 0,
    license_key TEXT,
    license_type TEXT DEFAULT 'standard',
    license_expires_at DATETIME,
    allowed_applications TEXT,
    application_roles TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    last_activity_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Licenses table
CREATE TABLE IF NOT EXISTS txa_licenses (
    id INTEGER PRIMARY KEY,
    key TEXT UNIQUE NOT NULL,
    type TEXT DEFAULT 'standard',
    status TEXT DEFAULT 'unused',
    user_id INTEGER,
    assigned_to TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    activated_at DATETIME,
    expires_at DATETIME,
    max_applications INTEGER DEFAULT 5,
    used_applications INTEGER DEFAULT 0,
    max_devices INTEGER DEFAULT 1,
    registered_devices TEXT,
    FOREIGN KEY (user_id) REFERENCES txa_users(id)
);

-- Applications table
CREATE TABLE IF NOT EXISTS txa_applications (
    id INTEGER PRIMARY KEY,
    uuid TEXT UNIQUE,
    name TEXT NOT NULL,
    description TEXT,
    current_version TEXT DEFAULT '1.0.0',
    minimum_version TEXT DEFAULT '1.0.0',
    force_update BOOLEAN DEFAULT 0,
    status TEXT DEFAULT 'active',
    maintenance_message TEXT,
    secret_key TEXT UNIQUE,
    requires_license BOOLEAN DEFAULT 1,
    required_license_type TEXT DEFAULT 'standard',
    total_users INTEGER DEFAULT 0,
    active_sessions INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Sessions table
CREATE TABLE IF NOT EXISTS txa_sessions (
    id INTEGER PRIMARY KEY,
    session_id TEXT UNIQUE NOT NULL,
    user_id INTEGER NOT NULL,
    application_id INTEGER,
    device_id TEXT NOT NULL,
    ip_address TEXT,
    user_agent TEXT,
    is_active BOOLEAN DEFAULT 1,
    expires_at DATETIME,
    access_token_hash TEXT,
    last_activity_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES txa_users(id),
    FOREIGN KEY (application_id) REFERENCES txa_applications(id)
);

-- Security Events table
CREATE TABLE IF NOT EXISTS txa_security_events (
    id INTEGER PRIMARY KEY,
    event_type TEXT NOT NULL,
    severity TEXT DEFAULT 'info',
    user_id INTEGER,
    application_id INTEGER,
    device_id TEXT,
    ip_address TEXT,
    description TEXT,
    details TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES txa_users(id),
    FOREIGN KEY (application_id) REFERENCES txa_applications(id)
);
`
