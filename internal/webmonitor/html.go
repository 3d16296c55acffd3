package webmonitor

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Zone Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: system-ui, sans-serif; background: #111; color: #eee; margin: 0; padding: 16px; }
        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(280px, 1fr)); gap: 12px; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 12px; }
        h2 { font-size: 15px; margin: 0 0 8px; color: #9cf; }
        pre { white-space: pre-wrap; margin: 0; font-size: 13px; }
        button { margin-right: 6px; }
        label { display: block; font-size: 13px; margin: 4px 0; }
        .err { color: #f77; }
    </style>
</head>
<body>
    <div class="grid">
        <div class="panel">
            <h2>Session</h2>
            <button id="start">Start</button><button id="stop">Stop</button><button id="test">Test voice</button>
            <pre id="session">stopped</pre>
            <img src="/api/pair.png?size=160" alt="Open on phone" width="160" height="160">
        </div>
        <div class="panel"><h2>Telemetry</h2><pre id="panel">--</pre></div>
        <div class="panel"><h2>Detections</h2><pre id="detections">--</pre></div>
        <div class="panel"><h2>Heart rate</h2><pre id="heart">--</pre></div>
        <div class="panel">
            <h2>Settings</h2>
            <form id="settings">
                <label>Threshold <input name="threshold" type="number" step="0.05" min="0" max="1"></label>
                <label>Classes <input name="classes"></label>
                <label>Zone margin % <input name="zone_margin_pct" type="number" min="0" max="50"></label>
                <label>Min area % <input name="min_area_pct" type="number" min="0" max="100"></label>
                <label>Cooldown s <input name="cooldown_sec" type="number" min="1"></label>
                <label>Voice <select name="voice_mode"><option>tts</option><option>beep</option><option>off</option></select></label>
                <label>Warning <input name="warning_text"></label>
                <button type="submit">Apply</button> <span id="settings-error" class="err"></span>
            </form>
            <a href="/api/telemetry.csv">Export telemetry CSV</a>
        </div>
        <div class="panel"><h2>Alerts</h2><pre id="alerts">--</pre></div>
    </div>
<script>
const $ = (id) => document.getElementById(id);
const post = (url, body) => fetch(url, {method: 'POST', headers: {'Content-Type': 'application/json'}, body: body && JSON.stringify(body)});
const numeric = ['threshold', 'zone_margin_pct', 'min_area_pct', 'cooldown_sec'];

$('start').onclick = () => post('/api/session/start');
$('stop').onclick = () => post('/api/session/stop');
$('test').onclick = () => post('/api/alerts/test');

async function loadSettings() {
    const s = await (await fetch('/api/settings')).json();
    const f = $('settings');
    for (const [k, v] of Object.entries(s)) {
        if (f.elements[k]) f.elements[k].value = Array.isArray(v) ? v.join(', ') : v;
    }
}
$('settings').onsubmit = async (e) => {
    e.preventDefault();
    const body = {};
    for (const el of e.target.elements) {
        if (!el.name) continue;
        if (el.name === 'classes') body.classes = el.value.split(',').map(c => c.trim()).filter(Boolean);
        else if (numeric.includes(el.name)) body[el.name] = Number(el.value);
        else body[el.name] = el.value;
    }
    const res = await post('/api/settings', body);
    $('settings-error').textContent = res.ok ? '' : (await res.json()).error;
};

function subscribe(url, topic, fn) {
    const es = new EventSource(url);
    es.addEventListener(topic, (e) => fn(JSON.parse(e.data)));
}

subscribe('/api/status/stream', 'status', (s) => {
    $('session').textContent = (s.session.running ? 'running' : 'stopped') + ' (gen ' + s.session.generation + ')';
    const sum = s.summary || {};
    $('detections').textContent = 'Top: ' + ((sum.top_classes || []).join(', ') || '--') +
        '\nTotal ' + (sum.total || 0) + ' / Avg ' + (sum.avg_confidence || 0).toFixed(2);
    $('alerts').textContent = (s.recent_alerts || []).map(a => a.kind + ': ' + a.message).join('\n') || '--';
});
subscribe('/api/telemetry/stream', 'telemetry', (t) => {
    $('panel').textContent = 'H ' + t.ambient_percent.toFixed(1) + '%  EV ' + t.ev_code +
        '\nmotion ' + t.motion_score.toFixed(1) + '  stddev ' + t.stddev.toFixed(1);
});
subscribe('/api/heart/stream', 'heart_rate', (h) => {
    $('heart').textContent = h.available ? h.estimate.bpm + ' bpm (' + h.phrase + ')' : 'measuring (' + h.samples + ' samples)';
});
subscribe('/api/alerts/stream', 'alert', (a) => {
    if (a.voice === 'tts' && 'speechSynthesis' in window) {
        speechSynthesis.speak(new SpeechSynthesisUtterance(a.message));
    } else if (a.voice === 'beep') {
        const ctx = new AudioContext(), osc = ctx.createOscillator();
        osc.connect(ctx.destination); osc.start(); osc.stop(ctx.currentTime + 0.2);
    }
});
loadSettings();
</script>
</body>
</html>
`
