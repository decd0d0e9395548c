// Package config loads, normalizes, and validates imagepipe configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks for the
// SFTP credentials (SFTP_HOST, SFTP_PORT, SFTP_USERNAME, SFTP_PASSWORD), the
// enhancer model (ESRGAN_MODEL_FILE_PATH), and the API token
// (IMAGEPIPE_API_TOKEN).
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical log formats, and clear validation errors.
package config
