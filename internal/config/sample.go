package config

// Sample is the starter qualityloop.yaml written by `qualityloop init`.
const Sample = `logLevel: info
server:
  addr: ":3000"
monitor:
  interval: 30s
  bufferSize: 1000
  spectra:
    - support
    - search
  thresholds:
    critical: 0.85
    warning: 0.90
    target: 0.95
    excellent: 0.98
    variance: 0.05
alerting:
  cooldown: 15m
  channels:
    - type: console
optimization:
  maxConcurrent: 3
  cooldown: 1h
  manualCooldown: 10m
  evaluationDelay: 15m
  locationTemplate: "prompts/{spectrum}"
deployment:
  improvementThreshold: 0.02
  confidenceThreshold: 0.75
abtest:
  enabled: false
learning:
  backend: sqlite
  path: .qualityloop/learning.db
history:
  backend: file
  path: .qualityloop/history.json
artifacts:
  backend: file
  dir: .qualityloop/artifacts
metricSource:
  type: none
telemetry:
  prometheus: true
`
