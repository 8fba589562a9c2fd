package config

// Embedded board configurations, keyed by board name (the value placed in
// ctx under CtxDeviceKey). Same schema as a config file.

const cfgPico = `
server:
  task: i2c
  default_timeout: 100ms
  auto_recover_every: 2s
  auto_recover_burst: 1
  recovery_half_period: 5us
controllers:
  - id: 0
    ports:
      - {index: 0, scl: 5, sda: 4}
  - id: 1
    ports:
      - index: 0
        scl: 7
        sda: 6
        muxes:
          - {id: 1, model: pca9548, address: 0x71, segments: 8}
tasks:
  - {id: 1, name: i2c, priority: 1}
  - {id: 2, name: sensors, priority: 3, calls: [i2c]}
  - {id: 3, name: diag, priority: 4, calls: [i2c]}
`

const cfgHostDemo = `
server:
  task: i2c
  default_timeout: 50ms
  auto_recover_every: 500ms
  auto_recover_burst: 1
controllers:
  - id: 1
    ports:
      - index: 2
        scl: 7
        sda: 6
        muxes:
          - {id: 1, model: pca9548, address: 0x71, segments: 8}
          - {id: 2, model: pca9546, address: 0x72, segments: 4}
tasks:
  - {id: 1, name: i2c, priority: 1}
  - {id: 2, name: sensors, priority: 3, calls: [i2c]}
  - {id: 3, name: rtc, priority: 3, calls: [i2c]}
  - {id: 4, name: diag, priority: 4, calls: [i2c]}
`

var embeddedConfigs = map[string][]byte{
	"pico":      []byte(cfgPico),
	"host-demo": []byte(cfgHostDemo),
}
