// Package config loads the portal configuration from PORTAL_* environment
// variables and validates it.
//
// Server settings:
//
//	PORTAL_HOST="0.0.0.0"
//	PORTAL_PORT="8080"
//	PORTAL_HEALTH_PORT="9090"
//	PORTAL_ENV="production"            # development, production
//	PORTAL_CORS_ORIGINS="https://www.mustardtree.com"
//	PORTAL_TRUST_PROXY="true"
//
// Record storage:
//
//	PORTAL_STORAGE_TYPE="postgres"     # memory, filesystem, redis, postgres, sqlite
//	PORTAL_POSTGRES_URL="postgres://localhost/portal"
//	PORTAL_REDIS_URL="redis://localhost:6379"
//	PORTAL_STORAGE_CORRUPT_POLICY="fail"  # fail, reseed
//
// Document objects:
//
//	PORTAL_OBJECTS_TYPE="s3"           # memory, filesystem, s3
//	PORTAL_R2_ACCOUNT_ID="..."
//	PORTAL_S3_BUCKET="mustardtree-documents"
//
// Authentication:
//
//	PORTAL_AUTH_MODE="zerotrust"       # local, zerotrust
//	PORTAL_ACCESS_DOMAIN="mustardtree.cloudflareaccess.com"
//	PORTAL_ACCESS_AUDIENCE="<application aud tag>"
//	PORTAL_ADMIN_EMAILS="ops@mustardtree.com"
//	PORTAL_STAFF_DOMAINS="mustardtree.com"
//	PORTAL_BOOTSTRAP_PASSWORD_HASH="$2a$12$..."
//
// Observability:
//
//	PORTAL_LOG_LEVEL="info"
//	PORTAL_METRICS_ENABLED="true"
//	PORTAL_OTEL_ENABLED="true"
//	PORTAL_OTEL_ENDPOINT="otel-collector:4317"
package config
